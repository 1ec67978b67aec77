package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) CreateDraft(ctx context.Context, b *domain.Booking, legs []repository.LegReservation, holdExpires time.Time) error {
	args := m.Called(ctx, b, legs, holdExpires)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Booking, error) {
	args := m.Called(ctx, publicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) GetFlights(ctx context.Context, bookingID int64) ([]domain.BookingFlight, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.BookingFlight), args.Error(1)
}

func (m *MockBookingRepository) GetHold(ctx context.Context, bookingID int64) (*domain.Hold, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Hold), args.Error(1)
}

func (m *MockBookingRepository) StatusHistory(ctx context.Context, bookingID int64) ([]domain.StatusLogEntry, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.StatusLogEntry), args.Error(1)
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, bookingID int64, to domain.BookingStatus) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) SetHold(ctx context.Context, bookingID int64, expiresAt time.Time) error {
	args := m.Called(ctx, bookingID, expiresAt)
	return args.Error(0)
}

func (m *MockBookingRepository) DropHold(ctx context.Context, bookingID int64) error {
	args := m.Called(ctx, bookingID)
	return args.Error(0)
}

func (m *MockBookingRepository) AvailableSeats(ctx context.Context, flightTariffID int64) (*domain.SeatAvailability, error) {
	args := m.Called(ctx, flightTariffID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SeatAvailability), args.Error(1)
}

func (m *MockBookingRepository) ReplacePassengers(ctx context.Context, bookingID int64, passengers []repository.PassengerAssignment) ([]domain.BookingPassenger, error) {
	args := m.Called(ctx, bookingID, passengers)
	return args.Get(0).([]domain.BookingPassenger), args.Error(1)
}

func (m *MockBookingRepository) ListPassengers(ctx context.Context, bookingID int64) ([]domain.BookingPassenger, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.BookingPassenger), args.Error(1)
}

func (m *MockBookingRepository) AssignBookingNumber(ctx context.Context, bookingID int64) (string, error) {
	args := m.Called(ctx, bookingID)
	return args.String(0), args.Error(1)
}

func (m *MockBookingRepository) CompleteBooking(ctx context.Context, bookingID int64) (*repository.CompletionResult, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CompletionResult), args.Error(1)
}

func (m *MockBookingRepository) ListFlightPassengers(ctx context.Context, bookingID int64) ([]domain.BookingFlightPassenger, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]domain.BookingFlightPassenger), args.Error(1)
}

func (m *MockBookingRepository) GetFlightPassenger(ctx context.Context, id int64) (*domain.BookingFlightPassenger, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingFlightPassenger), args.Error(1)
}

func (m *MockBookingRepository) UpdateTicketStatus(ctx context.Context, id int64, from, to domain.TicketStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockBookingRepository) ExpireDueBookings(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) PurgeStaleHolds(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type MockLock struct {
	mock.Mock
}

func (m *MockLock) AcquireLeaderLease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLock) ReleaseLeaderLease(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func newTestSweeper(repo *MockBookingRepository, lock *MockLock, producer *MockProducer) *Sweeper {
	return &Sweeper{
		bookings:     repo,
		lock:         lock,
		producer:     producer,
		log:          zerolog.Nop(),
		bookingTopic: "booking_events",
		interval:     time.Minute,
		leaseTTL:     30 * time.Second,
		retention:    30 * 24 * time.Hour,
	}
}

func TestSweeper_Sweep_PublishesPerExpiredBooking(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	mockProducer := &MockProducer{}
	sweeper := newTestSweeper(mockRepo, &MockLock{}, mockProducer)

	ctx := context.Background()
	expired := []domain.Booking{
		{ID: 1, PublicID: "pub-1", Status: domain.BookingStatusExpired},
		{ID: 2, PublicID: "pub-2", Status: domain.BookingStatusExpired},
	}

	mockRepo.On("ExpireDueBookings", ctx, mock.AnythingOfType("time.Time")).Return(expired, nil).Once()
	mockProducer.On("Publish", ctx, "booking_events", "pub-1", mock.Anything).Return(nil).Once()
	mockProducer.On("Publish", ctx, "booking_events", "pub-2", mock.Anything).Return(nil).Once()

	result, err := sweeper.Sweep(ctx)

	assert.NoError(t, err)
	assert.Len(t, result, 2)
	mockRepo.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
}

func TestSweeper_Sweep_NothingDue(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	mockProducer := &MockProducer{}
	sweeper := newTestSweeper(mockRepo, &MockLock{}, mockProducer)

	ctx := context.Background()
	mockRepo.On("ExpireDueBookings", ctx, mock.AnythingOfType("time.Time")).Return([]domain.Booking{}, nil).Once()

	result, err := sweeper.Sweep(ctx)

	assert.NoError(t, err)
	assert.Empty(t, result)
	mockProducer.AssertNotCalled(t, "Publish")
}

func TestSweeper_Tick_SkipsWhenNotLeader(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	mockLock := &MockLock{}
	sweeper := newTestSweeper(mockRepo, mockLock, &MockProducer{})

	ctx := context.Background()
	mockLock.On("AcquireLeaderLease", ctx, leaseName, 30*time.Second).Return(false, nil).Once()

	sweeper.Tick(ctx)

	mockLock.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "ExpireDueBookings")
	mockRepo.AssertNotCalled(t, "PurgeStaleHolds")
}

func TestSweeper_Tick_SweepsAndPurgesAsLeader(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	mockLock := &MockLock{}
	sweeper := newTestSweeper(mockRepo, mockLock, &MockProducer{})

	ctx := context.Background()
	mockLock.On("AcquireLeaderLease", ctx, leaseName, 30*time.Second).Return(true, nil).Once()
	mockRepo.On("ExpireDueBookings", ctx, mock.AnythingOfType("time.Time")).Return([]domain.Booking{}, nil).Once()
	mockRepo.On("PurgeStaleHolds", ctx, mock.AnythingOfType("time.Time")).Return(int64(3), nil).Once()

	sweeper.Tick(ctx)

	mockLock.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestSweeper_Tick_SweepsOnLeaseError(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	mockLock := &MockLock{}
	sweeper := newTestSweeper(mockRepo, mockLock, &MockProducer{})

	// Redis being down must not stop expiry; a double sweep is
	// harmless because the repository locks rows with SKIP LOCKED.
	ctx := context.Background()
	mockLock.On("AcquireLeaderLease", ctx, leaseName, 30*time.Second).Return(false, errors.New("redis down")).Once()
	mockRepo.On("ExpireDueBookings", ctx, mock.AnythingOfType("time.Time")).Return([]domain.Booking{}, nil).Once()
	mockRepo.On("PurgeStaleHolds", ctx, mock.AnythingOfType("time.Time")).Return(int64(0), nil).Once()

	sweeper.Tick(ctx)

	mockRepo.AssertExpectations(t)
}

func TestSweeper_PurgeHolds_UsesRetentionCutoff(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	sweeper := newTestSweeper(mockRepo, &MockLock{}, &MockProducer{})

	ctx := context.Background()
	mockRepo.On("PurgeStaleHolds", ctx, mock.MatchedBy(func(cutoff time.Time) bool {
		want := time.Now().UTC().Add(-30 * 24 * time.Hour)
		diff := cutoff.Sub(want)
		return diff > -time.Minute && diff < time.Minute
	})).Return(int64(5), nil).Once()

	purged, err := sweeper.PurgeHolds(ctx)

	assert.NoError(t, err)
	assert.Equal(t, int64(5), purged)
	mockRepo.AssertExpectations(t)
}

func TestSweeper_Run_StopsOnContextCancel(t *testing.T) {
	mockRepo := &MockBookingRepository{}
	sweeper := newTestSweeper(mockRepo, &MockLock{}, &MockProducer{})
	sweeper.interval = 10 * time.Millisecond
	sweeper.lock = nil
	sweeper.retention = 0

	mockRepo.On("ExpireDueBookings", mock.Anything, mock.AnythingOfType("time.Time")).Return([]domain.Booking{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
