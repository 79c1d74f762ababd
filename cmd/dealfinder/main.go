package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"dealfinder/config"
	"dealfinder/internal/api"
	"dealfinder/internal/bot"
	"dealfinder/internal/database"
	"dealfinder/internal/monitor"
	"dealfinder/internal/notify"
	"dealfinder/internal/scraper"
	"dealfinder/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	if envErr != nil {
		slog.Info(".env not found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("dealfinder stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("dealfinder stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	registry, err := scraper.LoadRegistry(cfg.StoresFile)
	if err != nil {
		return fmt.Errorf("load stores: %w", err)
	}
	slog.Info("stores loaded", "stores", registry.Keys())

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fetcher := scraper.NewFetcher(registry, scraper.Options{
		Timeout:      cfg.RequestTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequestDelay: cfg.RequestDelay,
	})

	var notifiers notify.Multi
	if cfg.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscord(cfg.DiscordWebhookURL)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		notifiers = append(notifiers, discord)
	}

	if cfg.SMTPHost != "" {
		email, err := notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, email)
	}

	var telegram *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		telegram, err = bot.Init(cfg.TelegramBotToken)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, bot.NewNotifier(telegram, cfg.TelegramChatID))
	}

	var notifier notify.Notifier = notifiers
	if !cfg.HasNotifier() {
		slog.Warn("no TELEGRAM_BOT_TOKEN, DISCORD_WEBHOOK_URL or SMTP_HOST set, deals will only be logged")
		notifier = notify.Log{}
	}

	mon := monitor.New(store, fetcher, notifier, monitor.Options{
		Interval:     cfg.CheckInterval,
		Schedule:     cfg.CheckSchedule,
		Cooldown:     cfg.NotifyCooldown,
		SendAttempts: cfg.SendAttempts,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.Start(ctx); err != nil {
			errCh <- fmt.Errorf("monitor: %w", err)
			cancel()
		}
	}()

	if cfg.HTTPAddr != "" {
		server := api.NewServer(cfg.HTTPAddr, api.NewHandlers(store, registry, fetcher))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	if telegram != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := telegram.GetUpdatesChan(u)
		handler := bot.NewHandler(telegram, store, registry, fetcher, mon, cfg.TelegramChatID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.Run(ctx, updates)
		}()
		go func() {
			<-ctx.Done()
			telegram.StopReceivingUpdates()
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.AlertStore {
	case config.StoreJSON:
		s, err := database.NewJSONFile(cfg.AlertsFile)
		if err != nil {
			return nil, fmt.Errorf("open alerts file: %w", err)
		}
		return s, nil
	default:
		db, err := database.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}
