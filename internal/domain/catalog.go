package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SeatClass string

const (
	SeatClassEconomy  SeatClass = "economy"
	SeatClassBusiness SeatClass = "business"
)

type Airport struct {
	ID       int64
	Code     string
	Name     string
	City     string
	Timezone string
}

type Airline struct {
	ID   int64
	Code string
	Name string
}

type Flight struct {
	ID            int64
	AirlineID     int64
	Number        string
	FromAirportID int64
	ToAirportID   int64
	// Departure and Arrival are resolved instants; the wall-clock view
	// in each airport's zone is derived by the catalogue service.
	Departure time.Time
	Arrival   time.Time
	Capacity  *AircraftCapacity
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AircraftCapacity struct {
	Economy  int
	Business int
}

// DurationMinutes is the integer minute count between the two zoned
// instants, independent of the local wall clocks.
func (f Flight) DurationMinutes() int {
	return int(f.Arrival.Sub(f.Departure) / time.Minute)
}

type Tariff struct {
	ID             int64
	Name           string
	Class          SeatClass
	Rank           int
	Price          decimal.Decimal
	Currency       string
	Refundable     bool
	BaggageKg      int
	HandLuggageKg  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FlightTariff is the sellable unit: one tariff class offered on one
// flight with a seat quota.
type FlightTariff struct {
	ID         int64
	FlightID   int64
	TariffID   int64
	TotalSeats int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type SeatAvailability struct {
	FlightTariffID int64 `json:"flight_tariff_id"`
	Total          int   `json:"total"`
	Taken          int   `json:"taken"`
	Available      int   `json:"available"`
}

type FeeApplication string

const (
	FeeApplicationBooking      FeeApplication = "booking"
	FeeApplicationTicketRefund FeeApplication = "ticket_refund"
)

type FeeTerm string

const (
	FeeTermNone           FeeTerm = "none"
	FeeTermBefore48h      FeeTerm = "before_48h"
	FeeTermBefore24h      FeeTerm = "before_24h"
	FeeTermWithin24h      FeeTerm = "within_24h"
	FeeTermAfterDeparture FeeTerm = "after_departure"
)

type Fee struct {
	ID          int64
	Name        string
	Amount      decimal.Decimal
	Currency    string
	Application FeeApplication
	Term        FeeTerm
	TariffID    *int64
}

type DiscountType string

const (
	DiscountRoundTrip DiscountType = "round_trip"
	DiscountInfant    DiscountType = "infant"
	DiscountChild     DiscountType = "child"
)

type Discount struct {
	ID      int64
	Type    DiscountType
	Name    string
	Percent decimal.Decimal
}

// RefundFeeTerm buckets hours-to-departure into the fee term the
// cancellation policy keys on.
func RefundFeeTerm(departure, now time.Time) FeeTerm {
	until := departure.Sub(now)
	switch {
	case until < 0:
		return FeeTermAfterDeparture
	case until < 24*time.Hour:
		return FeeTermWithin24h
	case until < 48*time.Hour:
		return FeeTermBefore24h
	default:
		return FeeTermBefore48h
	}
}
