package catalog

import (
	"context"
	"time"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/pricing"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/rs/zerolog"
)

type CatalogUseCase interface {
	ListFlights(ctx context.Context) ([]domain.Flight, error)
	GetFlight(ctx context.Context, id int64) (*domain.Flight, error)
	GetTariff(ctx context.Context, id int64) (*domain.Tariff, error)
	FlightSchedule(ctx context.Context, flightID int64) (*Schedule, error)
	BuildQuoteInput(ctx context.Context, outbound LegRef, ret *LegRef) (*QuoteInput, error)
	RefundFees(ctx context.Context, tariffID int64, term domain.FeeTerm) ([]domain.Fee, error)
}

type Cache interface {
	GetFlights(ctx context.Context) ([]domain.Flight, error)
	SetFlights(ctx context.Context, flights []domain.Flight) error
}

// LegRef identifies a leg the way clients address it: by flight and
// tariff, not by the join row id.
type LegRef struct {
	FlightID int64 `json:"flight_id"`
	TariffID int64 `json:"tariff_id"`
}

// QuoteInput is everything the price calculator needs, read off a
// single catalogue snapshot.
type QuoteInput struct {
	Outbound    pricing.Leg
	Return      *pricing.Leg
	OutboundFT  *domain.FlightTariff
	ReturnFT    *domain.FlightTariff
	Discounts   []domain.Discount
	BookingFees []domain.Fee
}

// Schedule exposes the flight endpoints in their airport zones plus
// the zone-independent duration.
type Schedule struct {
	FlightID       int64     `json:"flight_id"`
	DepartureLocal time.Time `json:"departure_local"`
	ArrivalLocal   time.Time `json:"arrival_local"`
	DurationMin    int       `json:"duration_minutes"`
}

type CatalogService struct {
	repo  repository.CatalogRepository
	cache Cache
	log   zerolog.Logger
}

func NewCatalogService(repo repository.CatalogRepository, cache Cache, log zerolog.Logger) *CatalogService {
	return &CatalogService{repo: repo, cache: cache, log: log}
}

func (s *CatalogService) ListFlights(ctx context.Context) ([]domain.Flight, error) {
	if s.cache != nil {
		cached, err := s.cache.GetFlights(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("flights cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	flights, err := s.repo.ListFlights(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetFlights(ctx, flights); err != nil {
			s.log.Warn().Err(err).Msg("flights cache write failed")
		}
	}
	return flights, nil
}

func (s *CatalogService) GetFlight(ctx context.Context, id int64) (*domain.Flight, error) {
	return s.repo.GetFlight(ctx, id)
}

func (s *CatalogService) GetTariff(ctx context.Context, id int64) (*domain.Tariff, error) {
	return s.repo.GetTariff(ctx, id)
}

// FlightSchedule converts the stored instants into airport wall
// clocks. The duration comes from the instants and is immune to the
// zone conversions.
func (s *CatalogService) FlightSchedule(ctx context.Context, flightID int64) (*Schedule, error) {
	flight, err := s.repo.GetFlight(ctx, flightID)
	if err != nil {
		return nil, err
	}

	fromTZ, err := s.repo.AirportTimezone(ctx, flight.FromAirportID)
	if err != nil {
		return nil, err
	}
	toTZ, err := s.repo.AirportTimezone(ctx, flight.ToAirportID)
	if err != nil {
		return nil, err
	}

	fromLoc, err := time.LoadLocation(fromTZ)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, "bad origin timezone "+fromTZ, err)
	}
	toLoc, err := time.LoadLocation(toTZ)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, "bad destination timezone "+toTZ, err)
	}

	return &Schedule{
		FlightID:       flight.ID,
		DepartureLocal: flight.Departure.In(fromLoc),
		ArrivalLocal:   flight.Arrival.In(toLoc),
		DurationMin:    flight.DurationMinutes(),
	}, nil
}

// BuildQuoteInput resolves both legs, the discount table and the
// booking fees inside one read transaction so the quote cannot observe
// a half-updated catalogue.
func (s *CatalogService) BuildQuoteInput(ctx context.Context, outbound LegRef, ret *LegRef) (*QuoteInput, error) {
	var input QuoteInput

	err := s.repo.InReadTx(ctx, func(ctx context.Context, r repository.CatalogRepository) error {
		out, ft, err := resolveLeg(ctx, r, outbound)
		if err != nil {
			return err
		}
		input.Outbound = *out
		input.OutboundFT = ft

		if ret != nil {
			rl, rft, err := resolveLeg(ctx, r, *ret)
			if err != nil {
				return err
			}
			input.Return = rl
			input.ReturnFT = rft
		}

		if input.Discounts, err = r.ListDiscounts(ctx); err != nil {
			return err
		}
		input.BookingFees, err = r.ListFees(ctx, domain.FeeApplicationBooking, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &input, nil
}

func resolveLeg(ctx context.Context, r repository.CatalogRepository, ref LegRef) (*pricing.Leg, *domain.FlightTariff, error) {
	ft, err := r.FindFlightTariff(ctx, ref.FlightID, ref.TariffID)
	if err != nil {
		return nil, nil, err
	}
	tariff, err := r.GetTariff(ctx, ft.TariffID)
	if err != nil {
		return nil, nil, err
	}

	return &pricing.Leg{
		FlightTariffID: ft.ID,
		FlightID:       ft.FlightID,
		TariffID:       ft.TariffID,
		Class:          tariff.Class,
		Price:          tariff.Price,
		Currency:       tariff.Currency,
	}, ft, nil
}

func (s *CatalogService) RefundFees(ctx context.Context, tariffID int64, term domain.FeeTerm) ([]domain.Fee, error) {
	return s.repo.ListFees(ctx, domain.FeeApplicationTicketRefund, &term, &tariffID)
}

var _ CatalogUseCase = (*CatalogService)(nil)
