package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) ListFlights(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockCatalogRepository) GetFlight(ctx context.Context, id int64) (*domain.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Flight), args.Error(1)
}

func (m *MockCatalogRepository) FindFlightTariff(ctx context.Context, flightID, tariffID int64) (*domain.FlightTariff, error) {
	args := m.Called(ctx, flightID, tariffID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FlightTariff), args.Error(1)
}

func (m *MockCatalogRepository) GetFlightTariff(ctx context.Context, id int64) (*domain.FlightTariff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FlightTariff), args.Error(1)
}

func (m *MockCatalogRepository) GetTariff(ctx context.Context, id int64) (*domain.Tariff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tariff), args.Error(1)
}

func (m *MockCatalogRepository) ListFees(ctx context.Context, application domain.FeeApplication, term *domain.FeeTerm, tariffID *int64) ([]domain.Fee, error) {
	args := m.Called(ctx, application, term, tariffID)
	return args.Get(0).([]domain.Fee), args.Error(1)
}

func (m *MockCatalogRepository) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Discount), args.Error(1)
}

func (m *MockCatalogRepository) AirportTimezone(ctx context.Context, airportID int64) (string, error) {
	args := m.Called(ctx, airportID)
	return args.String(0), args.Error(1)
}

func (m *MockCatalogRepository) InReadTx(ctx context.Context, fn func(ctx context.Context, r repository.CatalogRepository) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx, m)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetFlights(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockCache) SetFlights(ctx context.Context, flights []domain.Flight) error {
	args := m.Called(ctx, flights)
	return args.Error(0)
}

func TestCatalogService_ListFlights_CacheHit(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	mockCache := &MockCache{}
	service := NewCatalogService(mockRepo, mockCache, zerolog.Nop())

	ctx := context.Background()
	cached := []domain.Flight{{ID: 1, Number: "SU100"}}
	mockCache.On("GetFlights", ctx).Return(cached, nil).Once()

	flights, err := service.ListFlights(ctx)

	assert.NoError(t, err)
	assert.Equal(t, cached, flights)
	mockRepo.AssertNotCalled(t, "ListFlights")
}

func TestCatalogService_ListFlights_CacheMissFillsCache(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	mockCache := &MockCache{}
	service := NewCatalogService(mockRepo, mockCache, zerolog.Nop())

	ctx := context.Background()
	stored := []domain.Flight{{ID: 1, Number: "SU100"}, {ID: 2, Number: "SU200"}}
	mockCache.On("GetFlights", ctx).Return(nil, nil).Once()
	mockRepo.On("ListFlights", ctx).Return(stored, nil).Once()
	mockCache.On("SetFlights", ctx, stored).Return(nil).Once()

	flights, err := service.ListFlights(ctx)

	assert.NoError(t, err)
	assert.Equal(t, stored, flights)
	mockCache.AssertExpectations(t)
}

func TestCatalogService_ListFlights_CacheErrorFallsThrough(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	mockCache := &MockCache{}
	service := NewCatalogService(mockRepo, mockCache, zerolog.Nop())

	ctx := context.Background()
	stored := []domain.Flight{{ID: 1}}
	mockCache.On("GetFlights", ctx).Return(nil, errors.New("redis down")).Once()
	mockRepo.On("ListFlights", ctx).Return(stored, nil).Once()
	mockCache.On("SetFlights", ctx, stored).Return(errors.New("redis down")).Once()

	flights, err := service.ListFlights(ctx)

	assert.NoError(t, err)
	assert.Equal(t, stored, flights)
}

func TestCatalogService_FlightSchedule_ConvertsZones(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	service := NewCatalogService(mockRepo, nil, zerolog.Nop())

	ctx := context.Background()
	departure := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	arrival := time.Date(2026, 7, 1, 15, 30, 0, 0, time.UTC)
	flight := &domain.Flight{
		ID:            4,
		FromAirportID: 1,
		ToAirportID:   2,
		Departure:     departure,
		Arrival:       arrival,
	}

	mockRepo.On("GetFlight", ctx, int64(4)).Return(flight, nil).Once()
	mockRepo.On("AirportTimezone", ctx, int64(1)).Return("Europe/Moscow", nil).Once()
	mockRepo.On("AirportTimezone", ctx, int64(2)).Return("Asia/Novosibirsk", nil).Once()

	schedule, err := service.FlightSchedule(ctx, 4)

	assert.NoError(t, err)
	// Wall clocks shift with the zones; the duration does not.
	assert.Equal(t, 390, schedule.DurationMin)
	assert.Equal(t, "Europe/Moscow", schedule.DepartureLocal.Location().String())
	assert.Equal(t, "Asia/Novosibirsk", schedule.ArrivalLocal.Location().String())
	assert.True(t, schedule.DepartureLocal.Equal(departure))
	assert.True(t, schedule.ArrivalLocal.Equal(arrival))
}

func TestCatalogService_FlightSchedule_BadZone(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	service := NewCatalogService(mockRepo, nil, zerolog.Nop())

	ctx := context.Background()
	flight := &domain.Flight{ID: 4, FromAirportID: 1, ToAirportID: 2}
	mockRepo.On("GetFlight", ctx, int64(4)).Return(flight, nil).Once()
	mockRepo.On("AirportTimezone", ctx, int64(1)).Return("Mars/Olympus", nil).Once()
	mockRepo.On("AirportTimezone", ctx, int64(2)).Return("Europe/Moscow", nil).Once()

	schedule, err := service.FlightSchedule(ctx, 4)

	assert.Error(t, err)
	assert.Nil(t, schedule)
	assert.Equal(t, domain.KindFatal, domain.KindOf(err))
}

func TestCatalogService_BuildQuoteInput_RoundTrip(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	service := NewCatalogService(mockRepo, nil, zerolog.Nop())

	ctx := context.Background()
	outFT := &domain.FlightTariff{ID: 11, FlightID: 4, TariffID: 2, TotalSeats: 150}
	retFT := &domain.FlightTariff{ID: 12, FlightID: 9, TariffID: 2, TotalSeats: 150}
	tariff := &domain.Tariff{ID: 2, Class: domain.SeatClassEconomy, Price: decimal.NewFromInt(10000), Currency: "RUB"}
	discounts := []domain.Discount{{ID: 1, Type: domain.DiscountRoundTrip, Percent: decimal.NewFromFloat(0.15)}}
	fees := []domain.Fee{{ID: 1, Name: "service", Amount: decimal.NewFromInt(250)}}

	mockRepo.On("InReadTx", ctx, mock.Anything).Return(nil).Once()
	mockRepo.On("FindFlightTariff", ctx, int64(4), int64(2)).Return(outFT, nil).Once()
	mockRepo.On("FindFlightTariff", ctx, int64(9), int64(2)).Return(retFT, nil).Once()
	mockRepo.On("GetTariff", ctx, int64(2)).Return(tariff, nil).Twice()
	mockRepo.On("ListDiscounts", ctx).Return(discounts, nil).Once()
	mockRepo.On("ListFees", ctx, domain.FeeApplicationBooking, (*domain.FeeTerm)(nil), (*int64)(nil)).Return(fees, nil).Once()

	input, err := service.BuildQuoteInput(ctx, LegRef{FlightID: 4, TariffID: 2}, &LegRef{FlightID: 9, TariffID: 2})

	assert.NoError(t, err)
	assert.Equal(t, int64(11), input.Outbound.FlightTariffID)
	assert.NotNil(t, input.Return)
	assert.Equal(t, int64(12), input.Return.FlightTariffID)
	assert.Equal(t, discounts, input.Discounts)
	assert.Equal(t, fees, input.BookingFees)
	mockRepo.AssertExpectations(t)
}

func TestCatalogService_BuildQuoteInput_UnknownLeg(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	service := NewCatalogService(mockRepo, nil, zerolog.Nop())

	ctx := context.Background()
	mockRepo.On("InReadTx", ctx, mock.Anything).Return(nil).Once()
	mockRepo.On("FindFlightTariff", ctx, int64(4), int64(99)).Return(nil, domain.ErrNotFound).Once()

	input, err := service.BuildQuoteInput(ctx, LegRef{FlightID: 4, TariffID: 99}, nil)

	assert.Error(t, err)
	assert.Nil(t, input)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCatalogService_RefundFees_ScopesQuery(t *testing.T) {
	mockRepo := &MockCatalogRepository{}
	service := NewCatalogService(mockRepo, nil, zerolog.Nop())

	ctx := context.Background()
	term := domain.FeeTermBefore24h
	tariffID := int64(2)
	fees := []domain.Fee{{ID: 9, Name: "cancellation", Amount: decimal.NewFromInt(1500)}}

	mockRepo.On("ListFees", ctx, domain.FeeApplicationTicketRefund, &term, &tariffID).Return(fees, nil).Once()

	got, err := service.RefundFees(ctx, tariffID, term)

	assert.NoError(t, err)
	assert.Equal(t, fees, got)
	mockRepo.AssertExpectations(t)
}
