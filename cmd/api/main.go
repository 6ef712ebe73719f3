package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telecom-platform/internal/admission"
	"telecom-platform/internal/aiservice"
	"telecom-platform/internal/audit"
	"telecom-platform/internal/auth"
	"telecom-platform/internal/callengine"
	"telecom-platform/internal/config"
	"telecom-platform/internal/eventbus"
	"telecom-platform/internal/store"
	"telecom-platform/pkg/logger"
	"telecom-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	callStore := store.NewPostgres(db)
	bus := eventbus.New(func(subscriberID string, pending int) {
		log.Warn("supervisor subscriber dropped for falling behind", "subscriber_id", subscriberID, "pending", pending)
	})

	aiClient := aiservice.NewRetryPolicy(aiservice.NewMock())
	engine := callengine.New(callStore, bus, aiClient, log)

	admissionCtrl := admission.New(rdb, cfg.Admission.MaxConcurrentCalls, 6*time.Hour)
	auditSvc := audit.NewService(audit.NewMemoryRepo())

	// The media-stream handler never releases the admission slot (its
	// connection usually closes well before the AI pipeline finishes), so
	// this subscriber is the only place a slot is released: one release per
	// terminal (ARCHIVED or FAILED) state_changed event.
	go runAdmissionReleaser(rootCtx, bus, admissionCtrl, log)

	r := newRouter(routerDeps{
		log:         log,
		engine:      engine,
		bus:         bus,
		store:       callStore,
		admission:   admissionCtrl,
		authManager: authManager,
		auditSvc:    auditSvc,
		cfg:         cfg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// runAdmissionReleaser subscribes to every terminal state_changed event and
// releases one admission slot per call that reaches ARCHIVED or FAILED,
// independent of whether that call's media-stream connection is still open.
func runAdmissionReleaser(ctx context.Context, bus *eventbus.Bus, ctrl *admission.Controller, log *slog.Logger) {
	events, unsubscribe := bus.Subscribe("admission-releaser")
	defer unsubscribe()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != eventbus.KindStateChanged {
				continue
			}
			if evt.ToState != "ARCHIVED" && evt.ToState != "FAILED" {
				continue
			}
			if err := ctrl.Release(ctx); err != nil {
				log.Warn("admission release from terminal event failed", "call_id", evt.CallID, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
