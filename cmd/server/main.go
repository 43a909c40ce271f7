package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/admin"
	"github.com/HanTheDev/tenant-edge-gateway/internal/config"
	"github.com/HanTheDev/tenant-edge-gateway/internal/db"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/audit"
	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
	"github.com/HanTheDev/tenant-edge-gateway/internal/server"
	"github.com/HanTheDev/tenant-edge-gateway/internal/store"
	"github.com/HanTheDev/tenant-edge-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Config{Env: "dev"}).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.Init(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "tenant-edge-gateway"})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer kv.Close()

	sinks := audit.Multi{audit.NewLogSink(log)}
	var events admin.AuditReader
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to audit database", zap.Error(err))
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare audit schema", zap.Error(err))
		}
		async := audit.NewAsync(database, cfg.AuditBuffer, log)
		defer async.Close()
		sinks = append(sinks, async)
		events = database
	}

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("tenant-edge-gateway", os.Stdout, log)
		if err != nil {
			log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(sctx); err != nil {
				log.Warn("Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	gw, err := server.New(server.Options{
		Store:           kv,
		Prefix:          cfg.GatewayPrefix,
		AdminToken:      cfg.AdminToken,
		JWKSTimeout:     cfg.JWKSTimeout,
		JWTLeeway:       cfg.JWTLeeway,
		UpstreamTimeout: cfg.UpstreamTimeout,
		TenantCacheTTL:  cfg.TenantCacheTTL,
		Audit:           sinks,
		AuditEvents:     events,
		Tracing:         cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal("Failed to build gateway", zap.Error(err))
	}
	defer gw.Close()

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is empty, control plane is disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           gw.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("addr", srv.Addr),
			zap.String("prefix", cfg.GatewayPrefix),
			zap.String("store", cfg.Store),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
		}
		return
	case <-ctx.Done():
	}

	log.Info("Shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("Graceful shutdown incomplete", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store == "memory" {
		return store.NewMemory(), nil
	}
	kv, err := store.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := kv.Ping(pctx); err != nil {
		kv.Close()
		return nil, err
	}
	return kv, nil
}
