package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tazhate/eventtracker/config"
	"github.com/tazhate/eventtracker/internal/api"
	"github.com/tazhate/eventtracker/internal/auth"
	"github.com/tazhate/eventtracker/internal/bot"
	"github.com/tazhate/eventtracker/internal/clients/caldav"
	"github.com/tazhate/eventtracker/internal/clients/firebase"
	"github.com/tazhate/eventtracker/internal/delivery"
	"github.com/tazhate/eventtracker/internal/logging"
	"github.com/tazhate/eventtracker/internal/reminder"
	"github.com/tazhate/eventtracker/internal/scheduler"
	"github.com/tazhate/eventtracker/internal/service"
	"github.com/tazhate/eventtracker/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("eventtracker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	// Accounts and events live in sqlite unless Firebase is the backend.
	var (
		provider auth.Provider
		events   service.EventStore = store
		fbApp    *firebase.App
	)
	switch cfg.Backend {
	case config.BackendFirebase:
		fbApp, err = firebase.New(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
		if err != nil {
			return fmt.Errorf("init firebase: %w", err)
		}
		fbAuth, err := fbApp.Auth(ctx, store)
		if err != nil {
			return fmt.Errorf("init firebase auth: %w", err)
		}
		fbEvents, err := fbApp.Events(ctx)
		if err != nil {
			return fmt.Errorf("init firestore: %w", err)
		}
		defer fbEvents.Close()
		provider, events = fbAuth, fbEvents
	default:
		provider = auth.NewLocal(store, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL))
	}

	ledger := reminder.NewLedger(store, logger.With("component", "ledger"))
	permissions := service.NewPermissionService(store, ledger, cfg.ReminderTransport, cfg.SMSDestination, logger.With("component", "permissions"))
	users := service.NewUserService(store)

	sched := scheduler.New(store, cfg.Timezone, logger.With("component", "scheduler"))
	manager := reminder.NewManager(sched, permissions, cfg.Timezone, logger.With("component", "reminder"))

	worker := service.NewWorker(64)
	defer worker.Close()

	eventSvc := service.NewEventService(events, manager, permissions, worker, cfg.Timezone, logger.With("component", "events"))
	if cfg.CalDAVEnabled() {
		eventSvc.SetMirror(caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar, reminder.LeadTime))
		logger.Info("caldav mirror enabled", "url", cfg.CalDAVURL)
	}

	var tgBot *bot.Bot
	if cfg.TelegramEnabled() {
		tgBot, err = bot.New(cfg.TelegramToken, users, eventSvc, permissions, logger.With("component", "bot"))
		if err != nil {
			return fmt.Errorf("init bot: %w", err)
		}
	}

	var sender delivery.Sender
	switch cfg.ReminderTransport {
	case config.TransportTelegram:
		sender = tgBot
	case config.TransportPush:
		push, err := fbApp.Push(ctx)
		if err != nil {
			return fmt.Errorf("init push: %w", err)
		}
		sender = push
	default:
		sender = delivery.NewSMS(logger.With("component", "sms"))
	}
	sched.SetSender(sender)
	sched.SetRecipients(permissions)

	server := api.New(provider, users, eventSvc, permissions, cfg.Timezone, logger.With("component", "api"))

	errCh := make(chan error, 3)
	go func() {
		if err := sched.Start(ctx); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()
	if tgBot != nil {
		go func() {
			if err := tgBot.Start(ctx); err != nil {
				errCh <- fmt.Errorf("bot: %w", err)
			}
		}()
	}
	go func() {
		if err := server.Start(ctx, ":"+cfg.ServerPort); err != nil {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("eventtracker started",
		"backend", cfg.Backend,
		"transport", cfg.ReminderTransport,
		"timezone", cfg.Timezone.String(),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stop api", "error", err)
	}
	sched.Stop()

	logger.Info("eventtracker stopped")
	return runErr
}
