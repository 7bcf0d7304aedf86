package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	translator "github.com/Conight/go-googletrans"
	"github.com/sirupsen/logrus"
)

const (
	// EngineGoogle labels metrics and logs for the Google free endpoint.
	EngineGoogle = "google"
	// DefaultGoogleServiceURL is the host used when no service URLs are configured.
	DefaultGoogleServiceURL = "translate.google.com"
	// DefaultGoogleTimeout bounds a single upstream call.
	DefaultGoogleTimeout = 15 * time.Second
	// detectTarget is the destination used when a translate call is only
	// made to learn the source language.
	detectTarget = "en"
)

// googleEngine is the subset of the googletrans client used here.
type googleEngine interface {
	Translate(origin, src, dest string) (*translator.Translated, error)
}

// GoogleClient implements the Translator interface on top of the free Google
// Translate web endpoint.
//
// A new engine is built for every call. The underlying client keeps cookies
// and tokens between requests and stale state shows up as handshake
// failures, so nothing is reused across calls.
type GoogleClient struct {
	cfg       Config
	logger    *logrus.Logger
	mapper    *LanguageMapper
	scorer    *ConfidenceScorer
	metrics   *MetricsCollector
	newEngine func(translator.Config) googleEngine
}

// NewGoogleClient creates a new Google Translate client.
func NewGoogleClient(cfg Config, logger *logrus.Logger) *GoogleClient {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	return &GoogleClient{
		cfg:     cfg,
		logger:  logger,
		mapper:  NewLanguageMapper(),
		scorer:  NewConfidenceScorer(),
		metrics: NewMetricsCollector(EngineGoogle),
		newEngine: func(c translator.Config) googleEngine {
			return translator.New(c)
		},
	}
}

// Translate translates text from sourceLang to targetLang.
// sourceLang may be "auto"; the detected language is returned in Translation.Source.
func (c *GoogleClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Translation, error) {
	src := c.mapper.ToBackendCode(sourceLang)
	dest := c.mapper.ToBackendCode(targetLang)
	if src == "" {
		src = AutoLanguage
	}

	c.logger.WithFields(logrus.Fields{
		"source_lang": src,
		"target_lang": dest,
		"text_length": len(text),
	}).Debug("Translating text with Google Translate")

	result, err := c.call(ctx, "translate", text, src, dest)
	if err != nil {
		return nil, err
	}

	detected := c.resolveLanguage(text, result.Src)
	if detected == "" {
		detected = src
	}

	return &Translation{
		Text:   result.Text,
		Source: detected,
	}, nil
}

// Detect identifies the language of text. The engine call keeps the upstream
// failure modes; the language comes from the engine when it reports one and
// from the local detector otherwise. The local scorer estimates confidence.
func (c *GoogleClient) Detect(ctx context.Context, text string) (*Detection, error) {
	c.logger.WithFields(logrus.Fields{
		"text_length": len(text),
	}).Debug("Detecting language with Google Translate")

	result, err := c.call(ctx, "detect", text, AutoLanguage, detectTarget)
	if err != nil {
		return nil, err
	}

	language := c.resolveLanguage(text, result.Src)
	if language == "" {
		return nil, fmt.Errorf("google translate: no language detected")
	}

	return &Detection{
		Language:   language,
		Confidence: c.scorer.Score(text, language),
	}, nil
}

// resolveLanguage prefers the language the engine reported. The googletrans
// client echoes the requested source back, so an "auto" request comes back as
// "auto" and the local detector names the language instead. Empty means
// neither could tell.
func (c *GoogleClient) resolveLanguage(text, reported string) string {
	reported = strings.ToLower(strings.TrimSpace(reported))
	if reported != "" && reported != AutoLanguage {
		return reported
	}
	if language, ok := c.scorer.DetectLanguage(text); ok {
		return language
	}
	return ""
}

type engineResult struct {
	translated *translator.Translated
	err        error
}

// call runs one blocking engine request under the configured timeout and ctx.
// The googletrans client takes no context, so the request runs in its own
// goroutine and is abandoned (not interrupted) on timeout.
func (c *GoogleClient) call(ctx context.Context, operation, text, src, dest string) (*translator.Translated, error) {
	engine := c.newEngine(translator.Config{
		ServiceUrls: c.cfg.ServiceURLs,
		UserAgent:   c.cfg.UserAgents,
		Proxy:       c.cfg.Proxy,
	})

	startTime := time.Now()
	done := make(chan engineResult, 1)
	go func() {
		translated, err := engine.Translate(text, src, dest)
		done <- engineResult{translated: translated, err: err}
	}()

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	var res engineResult
	select {
	case res = <-done:
	case <-timer.C:
		res.err = fmt.Errorf("request timeout after %s", c.cfg.Timeout)
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err == nil && res.translated == nil {
		res.err = fmt.Errorf("empty response")
	}

	duration := time.Since(startTime)
	c.metrics.RecordCall(operation, duration, res.err == nil, len(text))

	if res.err != nil {
		c.logger.WithError(res.err).WithFields(logrus.Fields{
			"operation":   operation,
			"source_lang": src,
			"target_lang": dest,
			"duration_ms": duration.Milliseconds(),
		}).Debug("Google Translate request failed")
		return nil, fmt.Errorf("google translate %s: %w", operation, res.err)
	}

	c.logger.WithFields(logrus.Fields{
		"operation":   operation,
		"source_lang": res.translated.Src,
		"target_lang": dest,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Google Translate request completed")

	return res.translated, nil
}
