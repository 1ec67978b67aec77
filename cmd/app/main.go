package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/bootstrap"
	"github.com/pkorchagin/skyfare/internal/cache"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/pkorchagin/skyfare/internal/provider/yookassa"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/pkorchagin/skyfare/internal/service/booking"
	"github.com/pkorchagin/skyfare/internal/service/catalog"
	"github.com/pkorchagin/skyfare/internal/service/consent"
	"github.com/pkorchagin/skyfare/internal/service/payment"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "app").Logger()

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

	catalogRepo := repository.NewCatalogRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	consentRepo := repository.NewConsentRepository(pool)

	catalogService := catalog.NewCatalogService(catalogRepo, redisCache, log)
	consentService := consent.NewConsentService(consentRepo, log)
	bookingService := booking.NewBookingService(
		bookingRepo,
		catalogService,
		producer,
		log,
		cfg.Kafka.BookingEventsTopic,
		cfg.Booking.ConfirmationTTL(),
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
		booking.WithConsentRecorder(consentService),
	)

	provider := yookassa.NewClient(cfg.Provider)
	paymentService := payment.NewPaymentService(
		bookingRepo,
		paymentRepo,
		catalogService,
		provider,
		producer,
		log,
		cfg.Kafka.BookingEventsTopic,
		cfg.Kafka.NotificationsTopic,
		cfg.Booking.PaymentTTL(),
		cfg.Booking.InvoiceTTL(),
	)

	services := bootstrap.Services{
		Catalog: catalogService,
		Booking: bookingService,
		Payment: paymentService,
		Consent: consentService,
	}

	if err := bootstrap.Run(ctx, cfg, services, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
