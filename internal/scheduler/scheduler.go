package scheduler

import (
	"context"
	"time"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/rs/zerolog"
)

const leaseName = "hold-sweeper"

type LeaderLock interface {
	AcquireLeaderLease(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLeaderLease(ctx context.Context, name string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Sweeper expires bookings whose hold lapsed and prunes hold rows of
// long-terminal bookings. Multiple worker replicas coordinate through a
// redis lease so only one sweeps per tick.
type Sweeper struct {
	bookings     repository.BookingRepository
	lock         LeaderLock
	producer     Producer
	log          zerolog.Logger
	bookingTopic string
	interval     time.Duration
	leaseTTL     time.Duration
	retention    time.Duration
}

func NewSweeper(
	bookings repository.BookingRepository,
	lock LeaderLock,
	producer Producer,
	log zerolog.Logger,
	bookingTopic string,
	interval, leaseTTL, retention time.Duration,
) *Sweeper {
	return &Sweeper{
		bookings:     bookings,
		lock:         lock,
		producer:     producer,
		log:          log,
		bookingTopic: bookingTopic,
		interval:     interval,
		leaseTTL:     leaseTTL,
		retention:    retention,
	}
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one sweep if this replica wins the lease. Losing the lease
// is not an error.
func (s *Sweeper) Tick(ctx context.Context) {
	if s.lock != nil {
		ok, err := s.lock.AcquireLeaderLease(ctx, leaseName, s.leaseTTL)
		if err != nil {
			s.log.Warn().Err(err).Msg("leader lease check failed, sweeping anyway")
		} else if !ok {
			return
		}
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("hold sweep failed")
	}
	if s.retention > 0 {
		if _, err := s.PurgeHolds(ctx); err != nil {
			s.log.Error().Err(err).Msg("hold purge failed")
		}
	}
}

// Sweep expires everything past its hold deadline and emits an event
// per expired booking.
func (s *Sweeper) Sweep(ctx context.Context) ([]domain.Booking, error) {
	now := time.Now().UTC()
	expired, err := s.bookings.ExpireDueBookings(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return expired, nil
	}

	s.log.Info().Int("count", len(expired)).Msg("expired overdue bookings")
	for i := range expired {
		s.publishExpired(ctx, &expired[i])
	}
	return expired, nil
}

// PurgeHolds drops hold rows of terminal bookings that fell out of the
// retention window.
func (s *Sweeper) PurgeHolds(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	purged, err := s.bookings.PurgeStaleHolds(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info().Int64("count", purged).Msg("purged stale holds")
	}
	return purged, nil
}

func (s *Sweeper) publishExpired(ctx context.Context, b *domain.Booking) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       string(domain.EventBookingExpired),
		PublicID:   b.PublicID,
		Status:     string(b.Status),
		BuyerEmail: b.BuyerEmail,
		BuyerName:  b.BuyerName,
		Currency:   b.Currency,
		FinalTotal: b.FinalTotal,
		OccurredAt: time.Now().UTC(),
	}
	if b.BookingNumber != nil {
		event.BookingNumber = *b.BookingNumber
	}
	if err := s.producer.Publish(ctx, s.bookingTopic, b.PublicID, event); err != nil {
		s.log.Warn().Err(err).Str("booking", b.PublicID).Msg("failed to publish expiry event")
	}
}
