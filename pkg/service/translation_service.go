package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/transgate/pkg/retry"
	"github.com/dasmlab/transgate/pkg/translate"
)

const (
	opTranslate = "translate"
	opDetect    = "detect"

	// DefaultMaxTextLength is the number of characters (runes) kept from a translate request.
	DefaultMaxTextLength = 5000
	// DefaultPreviewLength is the number of characters logged for a successful translation.
	DefaultPreviewLength = 50
	// DefaultSourceLanguage lets the engine detect the source language.
	DefaultSourceLanguage = translate.AutoLanguage
	// DefaultTargetLanguage is used when a request names no target.
	DefaultTargetLanguage = "en"

	healthMessage = "Translation server is running"
)

// Config tunes request handling.
type Config struct {
	MaxTextLength int
	PreviewLength int
	DefaultSource string
	DefaultTarget string
	Retry         retry.Policy
}

// DefaultConfig returns the stock request handling settings.
func DefaultConfig() Config {
	return Config{
		MaxTextLength: DefaultMaxTextLength,
		PreviewLength: DefaultPreviewLength,
		DefaultSource: DefaultSourceLanguage,
		DefaultTarget: DefaultTargetLanguage,
		Retry:         retry.DefaultPolicy,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = d.PreviewLength
	}
	if c.DefaultSource == "" {
		c.DefaultSource = d.DefaultSource
	}
	if c.DefaultTarget == "" {
		c.DefaultTarget = d.DefaultTarget
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = d.Retry
	}
	return c
}

// TranslationRequest is one translate call as received from a client.
type TranslationRequest struct {
	Text       string
	SourceLang string
	TargetLang string
}

// TranslationResult is returned once per successful translate call.
type TranslationResult struct {
	TranslatedText   string
	DetectedLanguage string
}

// DetectionResult is one detected language with its confidence in [0, 1].
type DetectionResult struct {
	Language   string
	Confidence float64
}

// HealthFeatures advertises what the service does around the engine.
type HealthFeatures struct {
	RetryLogic      bool
	TimeoutHandling bool
	MaxRetries      int
}

// HealthStatus is the fixed capability descriptor returned by Health.
type HealthStatus struct {
	Status   string
	Message  string
	Features HealthFeatures
}

// TranslationService validates requests, calls the engine through the retry
// policy and classifies failures. It keeps no state between requests.
type TranslationService struct {
	// Translator is the upstream translation engine.
	Translator translate.Translator

	// Logger for service operations.
	Logger *logrus.Logger

	cfg     Config
	retrier *retry.Retrier
}

// NewTranslationService creates a new TranslationService instance.
// opts are passed to the underlying retry.Retrier.
func NewTranslationService(translator translate.Translator, cfg Config, logger *logrus.Logger, opts ...retry.Option) *TranslationService {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	opts = append([]retry.Option{
		retry.WithRetryHook(func(operation string, _ int, _ time.Duration, _ error) {
			retriesTotal.WithLabelValues(operation).Inc()
		}),
	}, opts...)

	return &TranslationService{
		Translator: translator,
		Logger:     logger,
		cfg:        cfg,
		retrier:    retry.New(cfg.Retry, logger, opts...),
	}
}

// RetryPolicy returns the effective retry policy.
func (s *TranslationService) RetryPolicy() retry.Policy {
	return s.retrier.Policy()
}

// Translate translates req.Text, truncating it to the configured maximum first.
func (s *TranslationService) Translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error) {
	result, err := s.translate(ctx, req)
	recordOutcome(opTranslate, err)
	return result, err
}

func (s *TranslationService) translate(ctx context.Context, req TranslationRequest) (*TranslationResult, error) {
	if req.Text == "" {
		return nil, invalidInput(opTranslate, MsgNoText)
	}
	if s.Translator == nil {
		s.Logger.Error("Translate: translator not configured")
		return nil, &Error{Kind: KindUpstream, Op: opTranslate, Message: MsgTranslatorUnconfigured}
	}

	text, truncated := truncateRunes(req.Text, s.cfg.MaxTextLength)
	if truncated {
		truncationsTotal.Inc()
		s.Logger.WithFields(logrus.Fields{
			"original_length": utf8.RuneCountInString(req.Text),
			"max_length":      s.cfg.MaxTextLength,
		}).Warnf("Text truncated to %d characters", s.cfg.MaxTextLength)
	}

	source := req.SourceLang
	if source == "" {
		source = s.cfg.DefaultSource
	}
	target := req.TargetLang
	if target == "" {
		target = s.cfg.DefaultTarget
	}

	translation, err := retry.Do(ctx, s.retrier, opTranslate, func(ctx context.Context) (*translate.Translation, error) {
		return s.Translator.Translate(ctx, text, source, target)
	})
	if err != nil {
		serr := classifyTranslateError(err)
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"kind":        serr.Kind.String(),
			"source_lang": source,
			"target_lang": target,
		}).Errorf("Translation error: %v", err)
		return nil, serr
	}

	preview, _ := truncateRunes(text, s.cfg.PreviewLength)
	s.Logger.WithFields(logrus.Fields{
		"preview":     preview,
		"source_lang": source,
		"target_lang": target,
		"detected":    translation.Source,
	}).Infof("Translated: %s... (%s -> %s)", preview, source, target)

	return &TranslationResult{
		TranslatedText:   translation.Text,
		DetectedLanguage: translation.Source,
	}, nil
}

// Detect identifies the language of text. The result always has one element.
func (s *TranslationService) Detect(ctx context.Context, text string) ([]DetectionResult, error) {
	result, err := s.detect(ctx, text)
	recordOutcome(opDetect, err)
	return result, err
}

func (s *TranslationService) detect(ctx context.Context, text string) ([]DetectionResult, error) {
	if text == "" {
		return nil, invalidInput(opDetect, MsgNoText)
	}
	if s.Translator == nil {
		s.Logger.Error("Detect: translator not configured")
		return nil, &Error{Kind: KindUpstream, Op: opDetect, Message: MsgTranslatorUnconfigured}
	}

	detection, err := retry.Do(ctx, s.retrier, opDetect, func(ctx context.Context) (*translate.Detection, error) {
		return s.Translator.Detect(ctx, text)
	})
	if err != nil {
		serr := classifyDetectError(err)
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"kind": serr.Kind.String(),
		}).Errorf("Detection error: %v", err)
		return nil, serr
	}

	s.Logger.WithFields(logrus.Fields{
		"language":   detection.Language,
		"confidence": detection.Confidence,
	}).Infof("Detected: %s (confidence: %v)", detection.Language, detection.Confidence)

	return []DetectionResult{{
		Language:   detection.Language,
		Confidence: detection.Confidence,
	}}, nil
}

// Health returns the capability descriptor. It never fails and does not
// contact the engine.
func (s *TranslationService) Health() HealthStatus {
	return HealthStatus{
		Status:  "ok",
		Message: healthMessage,
		Features: HealthFeatures{
			RetryLogic:      true,
			TimeoutHandling: true,
			MaxRetries:      s.retrier.Policy().MaxAttempts,
		},
	}
}

// truncateRunes keeps the first n runes of s.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
