package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/transgate/pkg/service"
)

const (
	// DefaultBodyLimit caps request bodies.
	DefaultBodyLimit = "1M"

	msgInvalidJSON      = "Invalid JSON body"
	msgInvalidBody      = "Invalid request body"
	msgInternalError    = "Internal Server Error"
	defaultHTTPHost     = "0.0.0.0"
	defaultHTTPPort     = 5000
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultShutdown     = 10 * time.Second
)

// Service is the request handling the HTTP layer delegates to.
type Service interface {
	Translate(ctx context.Context, req service.TranslationRequest) (*service.TranslationResult, error)
	Detect(ctx context.Context, text string) ([]service.DetectionResult, error)
	Health() service.HealthStatus
}

// Options configures the HTTP server.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// Listener, when set, is used instead of listening on Host:Port.
	Listener net.Listener
}

func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = defaultHTTPHost
	}
	if o.Port <= 0 {
		o.Port = defaultHTTPPort
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdown
	}
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}
	return o
}

// Addr is the host:port the server listens on.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// HTTPServer exposes /translate, /detect, /health and /metrics.
type HTTPServer struct {
	svc    Service
	logger *logrus.Logger
	opts   Options
	echo   *echo.Echo
}

type translateResponse struct {
	TranslatedText   string           `json:"translatedText"`
	DetectedLanguage detectedLanguage `json:"detectedLanguage"`
}

type detectedLanguage struct {
	Language string `json:"language"`
}

type detectionItem struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

type healthFeatures struct {
	RetryLogic      bool `json:"retry_logic"`
	TimeoutHandling bool `json:"timeout_handling"`
	MaxRetries      int  `json:"max_retries"`
}

type healthResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Features healthFeatures `json:"features"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer creates the HTTP server and its routes.
func NewHTTPServer(svc Service, logger *logrus.Logger, opts Options) *HTTPServer {
	if logger == nil {
		logger = logrus.New()
	}
	s := &HTTPServer{
		svc:    svc,
		logger: logger,
		opts:   opts.withDefaults(),
	}
	s.echo = s.routes()
	return s
}

// Handler returns the HTTP handler with all middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.opts.Addr()
}

func (s *HTTPServer) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       3600,
	}))
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := s.logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"remote_ip":  v.RemoteIP,
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("HTTP request failed")
				return nil
			}
			entry.Info("HTTP request")
			return nil
		},
	}))

	e.POST("/translate", s.handleTranslate)
	e.POST("/detect", s.handleDetect)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s == nil || s.svc == nil {
		return fmt.Errorf("server is not initialized")
	}

	addr := s.opts.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	if s.opts.Listener != nil {
		s.echo.Listener = s.opts.Listener
		addr = s.opts.Listener.Addr().String()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"addr": addr,
	}).Info("HTTP server listening")

	if err := s.echo.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *HTTPServer) handleTranslate(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	result, err := s.svc.Translate(c.Request().Context(), service.TranslationRequest{
		Text:       body.Q,
		SourceLang: body.Source,
		TargetLang: body.Target,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, translateResponse{
		TranslatedText:   result.TranslatedText,
		DetectedLanguage: detectedLanguage{Language: result.DetectedLanguage},
	})
}

func (s *HTTPServer) handleDetect(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}

	results, err := s.svc.Detect(c.Request().Context(), body.Q)
	if err != nil {
		return err
	}

	items := make([]detectionItem, 0, len(results))
	for _, r := range results {
		items = append(items, detectionItem{Language: r.Language, Confidence: r.Confidence})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	h := s.svc.Health()
	return c.JSON(http.StatusOK, healthResponse{
		Status:  h.Status,
		Message: h.Message,
		Features: healthFeatures{
			RetryLogic:      h.Features.RetryLogic,
			TimeoutHandling: h.Features.TimeoutHandling,
			MaxRetries:      h.Features.MaxRetries,
		},
	})
}

// readBody decodes the request body, turning decode failures into 400s.
func readBody(c echo.Context) (*requestBody, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON).SetInternal(err)
	}

	body, err := decodeRequestBody(raw)
	if err != nil {
		var se *schemaError
		switch {
		case errors.Is(err, errInvalidJSON):
			return nil, echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON).SetInternal(err)
		case errors.As(err, &se):
			return nil, echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody+": "+se.detail).SetInternal(err)
		default:
			return nil, err
		}
	}
	return body, nil
}

// httpErrorHandler renders every error as {"error": "..."}.
func (s *HTTPServer) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := msgInternalError

	var serr *service.Error
	var he *echo.HTTPError
	switch {
	case errors.As(err, &serr):
		status = serr.Kind.HTTPStatus()
		message = serr.Message
	case errors.As(err, &he):
		status = he.Code
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	default:
		s.logger.WithError(err).WithFields(logrus.Fields{
			"uri": c.Request().RequestURI,
		}).Error("Unhandled error")
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, errorResponse{Error: message})
	}
	if writeErr != nil {
		s.logger.WithError(writeErr).Error("Failed to write error response")
	}
}
