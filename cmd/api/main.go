package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/walletsaga/internal/api"
	"github.com/punchamoorthee/walletsaga/internal/config"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/ledger"
	"github.com/punchamoorthee/walletsaga/internal/logger"
	"github.com/punchamoorthee/walletsaga/internal/outbox"
	"github.com/punchamoorthee/walletsaga/internal/retry"
	"github.com/punchamoorthee/walletsaga/internal/service"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(logger.Options{Level: cfg.LogLevel, Env: cfg.Env, File: cfg.LogFile})
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Fatal("wallet service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logg *zap.Logger) error {
	// Initialize Layers
	st, closeStore, err := openStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeStore()

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Logger:      logg.Named("retry"),
	}
	wallet := service.NewWallet(st, ledger.NewEngine(logg.Named("ledger")), policy, logg.Named("wallet"))
	handler := api.NewHandler(wallet, st, logg.Named("api"))

	publisher, closePublisher := newPublisher(cfg, logg)
	defer closePublisher()
	relay := outbox.NewRelay(st, publisher, logg.Named("outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logg.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logg *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logg.Warn("using in-memory store, state is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logg.Info("schema applied")
	}
	return pg, pg.Close, nil
}

func newPublisher(cfg *config.Config, logg *zap.Logger) (outbox.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		l := logg.Named("outbox")
		return outbox.LogPublisher{Log: func(msg domain.OutboxMessage) {
			l.Info("outbox message",
				zap.Stringer("id", msg.ID),
				zap.String("aggregate_type", msg.AggregateType),
				zap.String("event_type", msg.EventType),
				zap.Stringer("aggregate_id", msg.AggregateID))
		}}, func() {}
	}

	kp := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	return kp, func() {
		if err := kp.Close(); err != nil {
			logg.Warn("kafka writer close failed", zap.Error(err))
		}
	}
}
