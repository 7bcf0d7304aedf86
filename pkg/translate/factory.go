package translate

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds configuration for creating the upstream Translator.
type Config struct {
	// ServiceURLs are Google Translate hosts picked at random per call.
	// Defaults to translate.google.com if empty.
	ServiceURLs []string
	// UserAgents are picked at random per call. The library default is used if empty.
	UserAgents []string
	// Proxy is an optional HTTP(S) proxy URL.
	Proxy string
	// Timeout bounds a single upstream call. Defaults to DefaultGoogleTimeout.
	Timeout time.Duration
}

func (cfg Config) withDefaults() Config {
	urls := make([]string, 0, len(cfg.ServiceURLs))
	for _, u := range cfg.ServiceURLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		urls = []string{DefaultGoogleServiceURL}
	}
	cfg.ServiceURLs = urls

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGoogleTimeout
	}
	cfg.Proxy = strings.TrimSpace(cfg.Proxy)
	return cfg
}

// Validate checks the configuration before any client is built.
func (cfg Config) Validate() error {
	if cfg.Timeout < 0 {
		return fmt.Errorf("upstream timeout must be >= 0, got %s", cfg.Timeout)
	}
	for _, u := range cfg.ServiceURLs {
		host := strings.TrimSpace(u)
		if host == "" {
			continue
		}
		if strings.Contains(host, "://") || strings.ContainsAny(host, "/ ") {
			return fmt.Errorf("upstream service URL %q must be a bare host name", u)
		}
	}
	if proxy := strings.TrimSpace(cfg.Proxy); proxy != "" {
		parsed, err := url.Parse(proxy)
		if err != nil {
			return fmt.Errorf("parse upstream proxy: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("upstream proxy %q must include scheme and host", proxy)
		}
	}
	return nil
}

// NewTranslator validates cfg and creates the Translator the service delegates to.
func NewTranslator(cfg Config, logger *logrus.Logger) (Translator, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid translator configuration")
		return nil, fmt.Errorf("invalid translator config: %w", err)
	}

	client := NewGoogleClient(cfg, logger)
	logger.WithFields(logrus.Fields{
		"engine":       EngineGoogle,
		"service_urls": client.cfg.ServiceURLs,
		"proxy":        client.cfg.Proxy != "",
		"timeout":      client.cfg.Timeout.String(),
	}).Info("Creating translator instance")

	return client, nil
}
