package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dasmlab/transgate/pkg/config"
	"github.com/dasmlab/transgate/pkg/server"
	"github.com/dasmlab/transgate/pkg/service"
	"github.com/dasmlab/transgate/pkg/translate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "transgate",
		Short: "HTTP translation gateway with retry on transient upstream failures",
		Long: `transgate exposes POST /translate, POST /detect and GET /health on top of
the free Google Translate endpoint. Upstream calls that fail with a
handshake or timeout error are retried with exponential backoff.

Configuration is read from flags, TRANSGATE_* environment variables
(a .env file in the working directory is loaded first) and an optional
YAML file given with --config.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func run(cmd *cobra.Command, cfgFile string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	if used := v.ConfigFileUsed(); used != "" {
		logger.WithField("config_file", used).Info("Using config file")
	}

	policy := cfg.RetryPolicy()
	logger.WithFields(logrus.Fields{
		"addr":             cfg.HTTPAddr(),
		"grpc_addr":        cfg.GRPCAddr(),
		"max_attempts":     policy.MaxAttempts,
		"initial_delay":    policy.InitialDelay.String(),
		"multiplier":       policy.Multiplier,
		"max_elapsed":      policy.MaxElapsed.String(),
		"worst_case_delay": policy.WorstCaseDelay().String(),
		"upstream":         strings.Join(cfg.Upstream.ServiceURLs, ","),
		"upstream_timeout": cfg.Upstream.Timeout.String(),
		"proxy":            cfg.Upstream.Proxy != "",
		"log_level":        logger.GetLevel().String(),
	}).Info("Starting translation server")

	translator, err := translate.NewTranslator(cfg.TranslatorConfig(), logger)
	if err != nil {
		return fmt.Errorf("create translator: %w", err)
	}

	svc := service.NewTranslationService(translator, cfg.ServiceConfig(), logger)

	httpServer := server.NewHTTPServer(svc, logger, server.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start(gctx)
	})

	if addr := cfg.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"addr": addr,
			}).Error("Failed to listen on gRPC port")
			stop()
			_ = g.Wait()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		grpcServer := server.NewGRPCServer(logger, cfg.Server.ShutdownTimeout)
		g.Go(func() error {
			return grpcServer.Serve(gctx, lis)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Received signal, shut down gracefully")
	}
	if err != nil {
		logger.WithError(err).Error("Server error")
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
