package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/cache"
	"github.com/pkorchagin/skyfare/internal/email"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/pkorchagin/skyfare/internal/scheduler"
	"github.com/rs/zerolog"
	kafkaGo "github.com/segmentio/kafka-go"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.CatalogCacheSeconds)*time.Second)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	bookingRepo := repository.NewBookingRepository(pool)

	sweeper := scheduler.NewSweeper(
		bookingRepo,
		redisCache,
		producer,
		log,
		cfg.Kafka.BookingEventsTopic,
		time.Duration(cfg.Worker.SweepSeconds)*time.Second,
		time.Duration(cfg.Worker.LeaderTTLSeconds)*time.Second,
		cfg.Booking.Retention(),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	sender := email.NewSender(log, cfg.Booking.ClientURL)

	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.BookingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Warn().Err(err).Msg("skipping undecodable notification")
				return nil
			}
			return sender.Send(ctx, event)
		}); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}()

	log.Info().Msg("worker started")
	sweeper.Run(ctx)
}
