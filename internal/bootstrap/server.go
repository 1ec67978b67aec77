package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkorchagin/skyfare/api"
	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/service/booking"
	"github.com/pkorchagin/skyfare/internal/service/catalog"
	"github.com/pkorchagin/skyfare/internal/service/consent"
	"github.com/pkorchagin/skyfare/internal/service/payment"
	"github.com/rs/zerolog"
)

type Services struct {
	Catalog catalog.CatalogUseCase
	Booking booking.BookingUseCase
	Payment payment.PaymentUseCase
	Consent consent.ConsentUseCase
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server fails.
func Run(ctx context.Context, cfg *config.Config, svc Services, log zerolog.Logger) error {
	router := NewRouter(svc, log)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	log.Info().Str("address", cfg.HTTP.Address).Msg("http server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func NewRouter(svc Services, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	flightHandler := api.NewFlightHandler(svc.Catalog, svc.Booking)
	bookingHandler := api.NewBookingHandler(svc.Booking)
	paymentHandler := api.NewPaymentHandler(svc.Booking, svc.Payment, log)
	consentHandler := api.NewConsentHandler(svc.Consent)

	v1 := router.Group("/api/v1")
	flightHandler.Register(v1.Group("/flights"))

	bookings := v1.Group("/bookings")
	bookingHandler.Register(bookings)
	paymentHandler.Register(bookings)

	consentHandler.Register(v1.Group("/consent"))
	paymentHandler.RegisterWebhooks(v1.Group("/webhooks"))

	admin := v1.Group("/admin")
	bookingHandler.RegisterAdmin(admin.Group("/bookings"))
	consentHandler.RegisterAdmin(admin.Group("/consent"))

	return router
}
