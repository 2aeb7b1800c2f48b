package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ariefcatur/go-qr-orders/internal/config"
	kafkax "github.com/ariefcatur/go-qr-orders/internal/kafka"
	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/notify"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/postgres"
	"github.com/ariefcatur/go-qr-orders/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Component:   cfg.ServiceName + "-notifier",
		Environment: cfg.Env,
	})
	if cfg.ResendAPIKey == "" {
		log.Error("RESEND_API_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	sender, err := notify.NewResendClient(cfg.ResendBaseURL, cfg.ResendAPIKey, nil)
	if err != nil {
		log.Error("resend client", "err", err)
		os.Exit(1)
	}
	mailer := &notify.Mailer{
		Store:     &orders.Repo{DB: db},
		Sender:    sender,
		Redis:     rdb,
		From:      cfg.MailFrom,
		SandboxTo: cfg.SandboxMailTo,
		Log:       log.WithComponent("mailer"),
	}

	workers := atoi(os.Getenv("NOTIFIER_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicOrderPaid, workers, log)

	go func() {
		log.Info("notifier consumer started", "group", cfg.NotifierGroup, "topic", orders.TopicOrderPaid, "workers", workers)
		if err := cons.Start(ctx, mailer.Handle); err != nil {
			log.Error("consumer exit", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
}

func atoi(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}
