package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/biddersweet/platform/internal/infra"
	"github.com/biddersweet/platform/internal/projection"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("outbox-consumer connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	poller := infra.NewOutboxPoller(pool, producer, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)
	poller.Start(ctx)

	// The projector needs both Kafka and the shared Redis projection.
	if cfg.KafkaEnabled && cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()

		projector := projection.NewCreditProjector(projection.NewBalances(projection.NewRedisStore(rdb, cfg.RedisPrefix)))
		consumer := infra.NewKafkaConsumer(cfg.KafkaBrokers, projector.Topics(), cfg.KafkaConsumerGroup, true, logger)
		defer consumer.Close()

		go consume(ctx, consumer, projector, logger)
	}

	<-ctx.Done()
	logger.Info("outbox-consumer shutting down")
	return nil
}

// consume feeds relayed events to the projector, committing each offset once
// handled. A message that cannot be handled is logged and committed; the
// projection falls back to PostgreSQL for that user until the next event.
func consume(ctx context.Context, consumer *infra.KafkaConsumer, projector *projection.CreditProjector, logger *slog.Logger) {
	logger.Info("balance projector started", "topics", projector.Topics())
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("balance projector stopped")
				return
			}
			logger.Error("fetch message", "error", err)
			continue
		}

		env, err := infra.DecodeOutboxMessage(msg.Value)
		if err == nil {
			err = projector.Handle(ctx, env)
		}
		if err != nil {
			logger.Warn("skipping outbox message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}

		if err := consumer.CommitMessages(ctx, msg); err != nil {
			logger.Error("commit message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}
