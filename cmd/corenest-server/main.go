package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/config"
	"github.com/BrandonDHaskell/corenest/internal/corenest/backend"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/grpcapi"
	"github.com/BrandonDHaskell/corenest/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger
	ledger, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open ledger")
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.WithError(err).Error("close ledger")
		}
	}()

	vault := service.NewVault(ledger, logger.WithField("component", "vault"))

	// HTTP
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger.WithField("component", "http"),
		Addr:           cfg.HTTPAddr,
		Vault:          vault,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	go func() {
		logger.Infof("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server error")
			stop()
		}
	}()

	// gRPC
	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger: logger.WithField("component", "grpc"),
			Addr:   cfg.GRPCAddr,
			Vault:  vault,
		})
		go func() {
			logger.Infof("grpc listening on %s", cfg.GRPCAddr)
			if err := grpcSrv.Start(); err != nil {
				logger.WithError(err).Error("grpc server error")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		_ = grpcSrv.Shutdown(shutdownCtx)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Env == "prod" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
