package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/battle"
	"github.com/hexplatoon/rivalist-go/internal/challenge"
	appcfg "github.com/hexplatoon/rivalist-go/internal/config"
	"github.com/hexplatoon/rivalist-go/internal/history"
	"github.com/hexplatoon/rivalist-go/internal/httpapi"
	"github.com/hexplatoon/rivalist-go/internal/msgcat"
	"github.com/hexplatoon/rivalist-go/internal/notify"
	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/hexplatoon/rivalist-go/internal/sched"
	"github.com/hexplatoon/rivalist-go/internal/scoring"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/internal/users"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	st, err := store.Open(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis_open_error", zap.Error(err))
	}

	userRepo, err := users.NewRepository(cfg.DatabaseURL)
	if err != nil {
		obslog.L().Fatal("db_open_error", zap.Error(err))
	}
	histRepo := history.NewRepository(userRepo.DB())

	cat, err := msgcat.New()
	if err != nil {
		obslog.L().Fatal("message_catalog_error", zap.Error(err))
	}

	hub := httpapi.NewHub()
	sinks := notify.Multi{notify.LogNotifier{}, hub}
	if cfg.NatsURL != "" {
		nn, err := notify.NewNATSNotifier(cfg.NatsURL)
		if err != nil {
			obslog.L().Fatal("nats_connect_error", zap.Error(err))
		}
		defer nn.Close()
		sinks = append(sinks, nn)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL))
	}

	scores := scoring.NewDispatcher()
	scores.Register(scoring.CategoryTyping, scoring.NewTypingScorer(cfg.TypingPromptWords))
	scores.Register(scoring.CategoryCSS, scoring.NewCSSScorer())

	scheduler := sched.New()

	battles := battle.NewRegistry(st, scheduler, scores, histRepo, sinks, cat, battle.Config{
		ReadinessTimeout: cfg.ReadinessTimeout,
		DefaultDuration:  cfg.DefaultBattleDuration,
		Durations: map[string]time.Duration{
			scoring.CategoryTyping: cfg.TypingBattleDuration,
			scoring.CategoryCSS:    cfg.CSSBattleDuration,
		},
	})

	challenges := challenge.NewManager(st, userRepo, battles, scores, sinks, cat, cfg.ChallengeTTL)

	sweeper := challenge.NewSweeper(challenges, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		obslog.L().Fatal("sweeper_start_error", zap.Error(err))
	}

	srv := httpapi.NewServer(challenges, battles, hub, cfg.AdminToken)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("http_serve_error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("http_shutdown_error", zap.Error(err))
	}
	hub.Close()
	sweeper.Stop()
	battles.Stop()
	_ = st.Close()
	_ = userRepo.Close()
}
