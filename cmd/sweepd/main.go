// Command sweepd is the automated participation daemon: it watches
// opportunity feeds, picks eligible entries under the configured safety
// and rate rules, and submits them through a real browser.
//
// Usage:
//
//	sweepd -config sweepd.yaml
//	sweepd -config sweepd.yaml -once        # one refresh + one tick, then exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sweepd/sweepd/internal/api"
	"github.com/sweepd/sweepd/internal/browser"
	"github.com/sweepd/sweepd/internal/captcha"
	"github.com/sweepd/sweepd/internal/config"
	"github.com/sweepd/sweepd/internal/engine"
	"github.com/sweepd/sweepd/internal/feed"
	"github.com/sweepd/sweepd/internal/notify"
	"github.com/sweepd/sweepd/internal/rategate"
	"github.com/sweepd/sweepd/internal/secrets"
	"github.com/sweepd/sweepd/internal/store"
	"github.com/sweepd/sweepd/internal/submit"
	"github.com/sweepd/sweepd/internal/tracker"
	"github.com/sweepd/sweepd/internal/validate"
)

func main() {
	configPath := flag.String("config", "sweepd.yaml", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	once := flag.Bool("once", false, "run one feed refresh and one scheduling tick, then exit")
	sealProfile := flag.String("seal-profile", "", "encrypt the config profile to this path and exit")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *sealProfile, *once); err != nil && ctx.Err() == nil {
		logger.Error("sweepd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, sealProfile string, once bool) error {
	config.LoadDotenv()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	// The profile can live outside the config file as an encrypted
	// blob; SWEEPD_PROFILE_KEY is the passphrase for both directions.
	if sealProfile != "" {
		if err := secrets.SaveProfile(sealProfile, cfg.Profile, os.Getenv("SWEEPD_PROFILE_KEY")); err != nil {
			return err
		}
		logger.Info("sweepd: profile sealed", "path", sealProfile)
		return nil
	}
	if path := os.Getenv("SWEEPD_PROFILE_FILE"); path != "" {
		profile, err := secrets.LoadProfile(path, os.Getenv("SWEEPD_PROFILE_KEY"))
		if err != nil {
			return err
		}
		cfg.Profile = profile
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	audit := store.NewAuditLog(db.DB(), 256)
	defer audit.Close()

	state, err := db.LoadRateState(ctx, time.Now())
	if err != nil {
		return err
	}
	winStart, winEnd := cfg.WindowMinutes()
	gate := rategate.NewGate(state, cfg.Engine.MaxParticipationsPerDay,
		cfg.Engine.DelayBetweenParticipations, winStart, winEnd)

	validator := validate.New(cfg.Safety.AllowedDomains, cfg.Safety.BlacklistedDomains,
		cfg.Safety.MaxValueThreshold, cfg.Profile, nil)

	// Notification sinks.
	var notifiers []notify.Notifier
	if cfg.Notify.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Notify.Telegram.BotToken,
			ChatID:   cfg.Notify.Telegram.ChatID,
		}))
	}
	if cfg.Notify.Webhook.Enabled {
		notifiers = append(notifiers, notify.NewWebhook(notify.WebhookConfig{
			URL:    cfg.Notify.Webhook.URL,
			Secret: cfg.Notify.Webhook.Secret,
		}))
	}
	dispatcher := notify.NewDispatcher(notifiers, logger)
	defer dispatcher.Close()

	rec := tracker.New(state, db,
		tracker.WithAudit(audit),
		tracker.WithSinks(dispatcher),
		tracker.WithLogger(logger),
	)

	// Browser sessions and the captcha pipeline.
	sessions := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         *cfg.Browser.Headless,
		NavTimeout:       cfg.Browser.NavTimeout,
		SettleTimeout:    cfg.Browser.SettleTimeout,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	solver := captcha.NewHTTPSolver(cfg.Captcha.Endpoint, cfg.Captcha.APIKey, captcha.WithSolverLogger(logger))
	resolver := captcha.NewResolver(solver, cfg.Captcha.Enabled, cfg.Captcha.APIKey != "",
		captcha.WithPollInterval(cfg.Captcha.PollInterval),
		captcha.WithMaxAttempts(cfg.Captcha.MaxAttempts),
		captcha.WithLogger(logger),
	)

	orchestrator := submit.NewOrchestrator(
		submit.SessionFactoryFunc(func(ctx context.Context, proxyURL string) (submit.Session, error) {
			return sessions.Acquire(ctx, proxyURL)
		}),
		resolver,
		submit.WithProxyPool(cfg.ProxyPool),
		submit.WithFieldStrategies(submit.StrategiesWithExtra(cfg.Profile)),
		submit.WithLogger(logger),
	)

	eng := engine.New(gate, validator, db, orchestrator, rec, cfg.Profile,
		cfg.Engine.PriorityThreshold,
		engine.WithErrorCooldown(cfg.Engine.ErrorCooldown),
		engine.WithLogger(logger),
	)

	refresher := feed.NewRefresher(
		feed.NewClient(cfg.Feed.RatePerMin, logger),
		cfg.Feed, db, dispatcher, logger,
	)

	if once {
		if _, err := refresher.Refresh(ctx); err != nil {
			logger.Warn("sweepd: refresh failed", "error", err)
		}
		return eng.RunOnce(ctx)
	}

	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	if cfg.API.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.API.Listen,
			Handler:           api.NewServer(eng, db, cfg, logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("sweepd: api listening", "addr", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("sweepd: api server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("sweepd: started",
		"max_per_day", cfg.Engine.MaxParticipationsPerDay,
		"window", fmt.Sprintf("%s-%s", cfg.Engine.WorkingHours.Start, cfg.Engine.WorkingHours.End),
		"captcha_solving", cfg.Captcha.Enabled,
		"proxies", len(cfg.ProxyPool),
	)
	return eng.Run(ctx)
}
