package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/config"
	"github.com/iliyamo/ticket-reservation-engine/internal/database"
	"github.com/iliyamo/ticket-reservation-engine/internal/handler"
	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/queue"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
	"github.com/iliyamo/ticket-reservation-engine/internal/router"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
	"github.com/iliyamo/ticket-reservation-engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}

	publisher := queue.NewPublisher(cfg.AMQPURL, cfg.TicketsQueue, log.Named("publisher"))
	defer publisher.Close()

	store := repository.NewStore(db)
	clk := clock.NewSystem()

	creds, err := service.NewCredentialService(store, cfg.QRSecret, clk, log.Named("credentials"))
	if err != nil {
		return err
	}
	reservations := service.NewReservationService(store, creds, clk, log.Named("reservations"),
		service.WithHoldTTL(cfg.HoldTTL), service.WithNotifier(publisher))
	payments := service.NewPaymentReconciler(store, reservations, clk, log.Named("payments"))
	transfers := service.NewTransferService(store, creds, clk, log.Named("transfers"),
		service.WithTransferTTL(cfg.TransferTTL))
	checker := service.NewConsistencyChecker(store, log.Named("consistency"))

	host, _ := os.Hostname()
	sweeper := worker.NewSweeper(cfg.SweepInterval, worker.NewRedisLease(rdb, "sweep", host), log.Named("sweeper"),
		worker.ExpireReservations(reservations, cfg.SweepBatch),
		worker.ExpireTransfers(transfers),
		worker.CheckConsistency(checker, cfg.SweepBatch),
	)
	waitSweeper := sweeper.Start(ctx)

	consumer := queue.Consumer{URL: cfg.AMQPURL, Queue: cfg.TicketsQueue, Dir: "logs", Log: log.Named("consumer")}
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("tickets consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log.Named("http")))
	router.Register(e, router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Redis:        rdb,
		RateLimit:    config.LoadRateLimitConfig(),
		Cache:        config.LoadCacheConfig(),
		Log:          log,
		DB:           db,
		Reservations: handler.NewReservationHandler(reservations),
		Payments:     handler.NewPaymentHandler(payments, cfg.WebhookSecret),
		Credentials:  handler.NewCredentialHandler(creds),
		Transfers:    handler.NewTransferHandler(transfers),
		Admin:        handler.NewAdminHandler(checker),
	})

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.Bool("redis", rdb != nil))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	stop()
	waitSweeper()
	log.Info("stopped")
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
