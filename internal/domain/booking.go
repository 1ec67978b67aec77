package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusDraft            BookingStatus = "draft"
	BookingStatusPassengersAdded  BookingStatus = "passengers_added"
	BookingStatusPaymentPending   BookingStatus = "payment_pending"
	BookingStatusPaymentConfirmed BookingStatus = "payment_confirmed"
	BookingStatusPaymentFailed    BookingStatus = "payment_failed"
	BookingStatusCompleted        BookingStatus = "completed"
	BookingStatusExpired          BookingStatus = "expired"
	BookingStatusCancelled        BookingStatus = "cancelled"
)

func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusExpired, BookingStatusCancelled:
		return true
	}
	return false
}

// legalTransitions is the full status graph. Only listed edges are
// reachable; everything else is ErrIllegalTransition.
var legalTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusDraft: {
		BookingStatusPassengersAdded,
		BookingStatusExpired,
		BookingStatusCancelled,
	},
	BookingStatusPassengersAdded: {
		BookingStatusPaymentPending,
		BookingStatusExpired,
		BookingStatusCancelled,
	},
	BookingStatusPaymentPending: {
		BookingStatusPaymentConfirmed,
		BookingStatusPaymentFailed,
		BookingStatusExpired,
		BookingStatusCancelled,
	},
	BookingStatusPaymentConfirmed: {
		BookingStatusCompleted,
		BookingStatusCancelled,
	},
	BookingStatusPaymentFailed: {
		BookingStatusPaymentPending,
		BookingStatusExpired,
		BookingStatusCancelled,
	},
}

func CanTransition(from, to BookingStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PassengerCounts struct {
	Adults      int `json:"adults"`
	Children    int `json:"children"`
	Infants     int `json:"infants"`
	InfantsSeat int `json:"infants_seat"`
}

// Seats is the number of seat-occupying passengers. Lap infants do not
// take a seat.
func (c PassengerCounts) Seats() int {
	return c.Adults + c.Children + c.InfantsSeat
}

func (c PassengerCounts) Total() int {
	return c.Adults + c.Children + c.Infants + c.InfantsSeat
}

func (c PassengerCounts) ByCategory(cat PassengerCategory) int {
	switch cat {
	case CategoryAdult:
		return c.Adults
	case CategoryChild:
		return c.Children
	case CategoryInfant:
		return c.Infants
	case CategoryInfantSeat:
		return c.InfantsSeat
	}
	return 0
}

type Booking struct {
	ID            int64
	PublicID      string
	AccessToken   string
	BookingNumber *string
	Status        BookingStatus
	UserID        *int64
	BuyerName     string
	BuyerEmail    string
	BuyerPhone    string
	Currency      string
	FareTotal     decimal.Decimal
	DiscountTotal decimal.Decimal
	FeeTotal      decimal.Decimal
	FinalTotal    decimal.Decimal
	// QuoteSnapshot is the full quote JSON persisted at creation;
	// receipts and refund math read it instead of re-pricing against a
	// catalogue that may have moved.
	QuoteSnapshot []byte
	Counts        PassengerCounts
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BookingFlight is one leg reservation; a booking carries one or two.
type BookingFlight struct {
	ID             int64
	BookingID      int64
	FlightTariffID int64
	FlightID       int64
	TariffID       int64
	SeatsNumber    int
	Direction      int // 0 outbound, 1 return
}

type PassengerCategory string

const (
	CategoryAdult      PassengerCategory = "adult"
	CategoryChild      PassengerCategory = "child"
	CategoryInfant     PassengerCategory = "infant"
	CategoryInfantSeat PassengerCategory = "infant_seat"
)

type BookingPassenger struct {
	ID          int64
	BookingID   int64
	PassengerID int64
	Category    PassengerCategory
	// Snapshot freezes the passenger payload at completion; the shared
	// Passenger row may be edited afterwards, the snapshot may not.
	Snapshot []byte
}

type TicketStatus string

const (
	TicketStatusCreated          TicketStatus = "created"
	TicketStatusInProgress       TicketStatus = "ticket_in_progress"
	TicketStatusTicketed         TicketStatus = "ticketed"
	TicketStatusRefundInProgress TicketStatus = "refund_in_progress"
	TicketStatusRefunded         TicketStatus = "refunded"
)

type BookingFlightPassenger struct {
	ID                 int64
	BookingPassengerID int64
	FlightID           int64
	Status             TicketStatus
	TicketNumber       *string
}

// Hold is the reservation lease. Present and unexpired means the
// booking's seats count against availability.
type Hold struct {
	BookingID int64
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (h Hold) Active(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

type StatusLogEntry struct {
	BookingID int64         `json:"-"`
	Seq       int           `json:"seq"`
	Status    BookingStatus `json:"status"`
	At        time.Time     `json:"at"`
}

type BookingEventType string

const (
	EventBookingCreated     BookingEventType = "booking_created"
	EventPassengersAssigned BookingEventType = "booking_passengers_assigned"
	EventBookingConfirmed   BookingEventType = "booking_confirmed"
	EventPaymentConfirmed   BookingEventType = "booking_payment_confirmed"
	EventPaymentFailed      BookingEventType = "booking_payment_failed"
	EventBookingCompleted   BookingEventType = "booking_completed"
	EventBookingExpired     BookingEventType = "booking_expired"
	EventBookingCancelled   BookingEventType = "booking_cancelled"
	EventTicketRefunded     BookingEventType = "booking_ticket_refunded"
)
