// Package config loads server settings from defaults, an optional YAML file,
// TRANSGATE_* environment variables (including a .env file) and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dasmlab/transgate/pkg/retry"
	"github.com/dasmlab/transgate/pkg/service"
	"github.com/dasmlab/transgate/pkg/translate"
)

// EnvPrefix is prepended to every environment variable, e.g. TRANSGATE_SERVER_PORT.
const EnvPrefix = "TRANSGATE"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Log       LogConfig       `mapstructure:"log"`
	Translate TranslateConfig `mapstructure:"translate"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// GRPCConfig configures the optional health listener. Port 0 disables it.
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TranslateConfig struct {
	MaxTextLength int    `mapstructure:"max_text_length"`
	PreviewLength int    `mapstructure:"preview_length"`
	DefaultSource string `mapstructure:"default_source"`
	DefaultTarget string `mapstructure:"default_target"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed"`
}

type UpstreamConfig struct {
	ServiceURLs []string      `mapstructure:"service_urls"`
	Proxy       string        `mapstructure:"proxy"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             5000,
	"server.read_timeout":     15 * time.Second,
	"server.write_timeout":    60 * time.Second,
	"server.shutdown_timeout": 10 * time.Second,
	"server.cors_origins":     []string{"*"},

	"grpc.port": 0,

	"log.level":  "info",
	"log.format": "text",

	"translate.max_text_length": service.DefaultMaxTextLength,
	"translate.preview_length":  service.DefaultPreviewLength,
	"translate.default_source":  service.DefaultSourceLanguage,
	"translate.default_target":  service.DefaultTargetLanguage,

	"retry.max_attempts":  retry.DefaultPolicy.MaxAttempts,
	"retry.initial_delay": retry.DefaultPolicy.InitialDelay,
	"retry.multiplier":    retry.DefaultPolicy.Multiplier,
	"retry.max_elapsed":   retry.DefaultPolicy.MaxElapsed,

	"upstream.service_urls": []string{translate.DefaultGoogleServiceURL},
	"upstream.proxy":        "",
	"upstream.timeout":      translate.DefaultGoogleTimeout,
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"host":             "server.host",
	"port":             "server.port",
	"grpc-port":        "grpc.port",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"max-retries":      "retry.max_attempts",
	"retry-delay":      "retry.initial_delay",
	"upstream-proxy":   "upstream.proxy",
	"upstream-timeout": "upstream.timeout",
}

// proxyEnv is consulted, in order, when upstream.proxy is not set.
var proxyEnv = []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the server flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", "0.0.0.0", "HTTP listen host")
	fs.Int("port", 5000, "HTTP listen port")
	fs.Int("grpc-port", 0, "gRPC health listener port (0 disables it)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.Int("max-retries", retry.DefaultPolicy.MaxAttempts, "Total attempts per upstream call")
	fs.Duration("retry-delay", retry.DefaultPolicy.InitialDelay, "Pause before the second attempt")
	fs.String("upstream-proxy", "", "Proxy URL for upstream calls (defaults to HTTPS_PROXY)")
	fs.Duration("upstream-timeout", translate.DefaultGoogleTimeout, "Per-call upstream timeout")
}

// BindFlags binds every registered flag present in fs to its configuration key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// LoadDotEnv loads environment files without overriding variables that are
// already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads cfgFile (if set) into v and decodes the result.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Upstream.Proxy == "" {
		for _, name := range proxyEnv {
			if proxy := os.Getenv(name); proxy != "" {
				cfg.Upstream.Proxy = proxy
				break
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port))
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range 0..65535", c.GRPC.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxElapsed < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier))
	}
	if c.Retry.MaxElapsed > 0 && c.Retry.MaxAttempts >= 1 {
		timeout := c.Upstream.Timeout
		if timeout <= 0 {
			timeout = translate.DefaultGoogleTimeout
		}
		if required := c.RetryPolicy().RequiredElapsed(timeout); c.Retry.MaxElapsed < required {
			errs = append(errs, fmt.Errorf("retry.max_elapsed %s cannot fit %d attempts of up to %s, need at least %s (or 0 to disable)",
				c.Retry.MaxElapsed, c.Retry.MaxAttempts, timeout, required))
		}
	}
	if c.Translate.MaxTextLength < 1 {
		errs = append(errs, fmt.Errorf("translate.max_text_length must be at least 1, got %d", c.Translate.MaxTextLength))
	}
	if strings.TrimSpace(c.Translate.DefaultTarget) == "" {
		errs = append(errs, errors.New("translate.default_target must not be empty"))
	}
	if err := c.TranslatorConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	return errors.Join(errs...)
}

// HTTPAddr is the host:port the HTTP server listens on.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GRPCAddr is the listen address of the gRPC health server, empty when disabled.
func (c *Config) GRPCAddr() string {
	if c.GRPC.Port == 0 {
		return ""
	}
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.GRPC.Port))
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		Multiplier:   c.Retry.Multiplier,
		MaxElapsed:   c.Retry.MaxElapsed,
	}
}

// ServiceConfig converts the translate and retry sections.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		MaxTextLength: c.Translate.MaxTextLength,
		PreviewLength: c.Translate.PreviewLength,
		DefaultSource: c.Translate.DefaultSource,
		DefaultTarget: c.Translate.DefaultTarget,
		Retry:         c.RetryPolicy(),
	}
}

// TranslatorConfig converts the upstream section.
func (c *Config) TranslatorConfig() translate.Config {
	return translate.Config{
		ServiceURLs: c.Upstream.ServiceURLs,
		Proxy:       c.Upstream.Proxy,
		Timeout:     c.Upstream.Timeout,
	}
}
