package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-qr-orders/internal/checkout"
	"github.com/ariefcatur/go-qr-orders/internal/config"
	"github.com/ariefcatur/go-qr-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-qr-orders/internal/kafka"
	"github.com/ariefcatur/go-qr-orders/internal/limiter"
	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/notify"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/postgres"
	"github.com/ariefcatur/go-qr-orders/internal/pricing"
	"github.com/ariefcatur/go-qr-orders/internal/reconcile"
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
		Component:   cfg.ServiceName,
		Environment: cfg.Env,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer (order.paid, order.cancelled)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// core
	repo := &orders.Repo{DB: db}
	mp := mercadopago.New(cfg.MPBaseURL, nil)
	auditor := pricing.New(repo, log)
	builder := checkout.New(repo, auditor, mp, cfg.WebhookURL(), log)
	rec := reconcile.New(repo, mp, notify.NewKafkaDispatcher(prod, cfg.ServiceName), log)

	router := httpx.NewRouter(
		&httpx.OrdersHandler{
			Store:    repo,
			Limiter:  limiter.New(repo, cfg.OrderCap, cfg.OrderWindow),
			Checkout: builder,
			Redis:        rdb,
			Log:          log.WithComponent("http-orders"),
			SecureCookie: cfg.IsProduction(),
		},
		&httpx.PaymentsHandler{Reconciler: rec, Redis: rdb, Log: log.WithComponent("http-payments")},
		&httpx.SessionsHandler{Store: repo, Log: log.WithComponent("http-sessions"), SecureCookie: cfg.IsProduction()},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop intake, loop flushes the rest
	prod.WaitClosed() // drain
	cancel()
}
