package booking

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/pkorchagin/skyfare/internal/pricing"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/pkorchagin/skyfare/internal/service/catalog"
	"github.com/rs/zerolog"
)

type BookingUseCase interface {
	Quote(ctx context.Context, input QuoteRequest) (*pricing.Quote, error)
	CreateDraft(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetByAccess(ctx context.Context, publicID, accessToken string, userID *int64) (*domain.Booking, error)
	Details(ctx context.Context, publicID, accessToken string, userID *int64) (*BookingDetails, error)
	AssignPassengers(ctx context.Context, input AssignPassengersInput) (*domain.Booking, error)
	AdminCancel(ctx context.Context, bookingID int64) (*domain.Booking, error)
	AvailableSeats(ctx context.Context, flightTariffID int64) (*domain.SeatAvailability, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type ConsentRecorder interface {
	RecordAgreement(ctx context.Context, docType domain.ConsentDocType, bookingID int64, userID *int64, passengerIDs []int64, meta ClientMetadata) error
}

type ClientMetadata struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

type QuoteRequest struct {
	Outbound   catalog.LegRef         `json:"outbound"`
	Return     *catalog.LegRef        `json:"return,omitempty"`
	Passengers domain.PassengerCounts `json:"passengers"`
}

type CreateBookingInput struct {
	QuoteRequest
	UserID     *int64 `json:"-"`
	BuyerName  string `json:"buyer_name"`
	BuyerEmail string `json:"buyer_email"`
	BuyerPhone string `json:"buyer_phone"`
}

type PassengerInput struct {
	FirstName      string                   `json:"first_name"`
	LastName       string                   `json:"last_name"`
	MiddleName     string                   `json:"middle_name"`
	Gender         domain.Gender            `json:"gender"`
	BirthDate      time.Time                `json:"birth_date"`
	DocumentType   domain.DocumentType      `json:"document_type"`
	DocumentNumber string                   `json:"document_number"`
	DocumentExpiry *time.Time               `json:"document_expiry,omitempty"`
	Citizenship    string                   `json:"citizenship"`
	Category       domain.PassengerCategory `json:"category"`
}

type AssignPassengersInput struct {
	PublicID      string           `json:"-"`
	AccessToken   string           `json:"-"`
	UserID        *int64           `json:"-"`
	Passengers    []PassengerInput `json:"passengers"`
	AcceptPolicy  bool             `json:"accept_policy"`
	AcceptOffer   bool             `json:"accept_offer"`
	Client        ClientMetadata   `json:"-"`
}

type BookingDetails struct {
	Booking          *domain.Booking                 `json:"booking"`
	Flights          []domain.BookingFlight          `json:"flights"`
	Passengers       []domain.BookingPassenger       `json:"passengers"`
	FlightPassengers []domain.BookingFlightPassenger `json:"flight_passengers,omitempty"`
	Hold             *domain.Hold                    `json:"hold,omitempty"`
	StatusHistory    []domain.StatusLogEntry         `json:"status_history"`
}

type BookingService struct {
	bookings           repository.BookingRepository
	catalog            catalog.CatalogUseCase
	consents           ConsentRecorder
	producer           Producer
	log                zerolog.Logger
	bookingTopic       string
	notificationsTopic string
	confirmationTTL    time.Duration
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithConsentRecorder(c ConsentRecorder) BookingServiceOption {
	return func(s *BookingService) {
		s.consents = c
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	catalogSvc catalog.CatalogUseCase,
	producer Producer,
	log zerolog.Logger,
	bookingTopic string,
	confirmationTTL time.Duration,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:        bookings,
		catalog:         catalogSvc,
		producer:        producer,
		log:             log,
		bookingTopic:    bookingTopic,
		confirmationTTL: confirmationTTL,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) Quote(ctx context.Context, req QuoteRequest) (*pricing.Quote, error) {
	input, err := s.catalog.BuildQuoteInput(ctx, req.Outbound, req.Return)
	if err != nil {
		return nil, err
	}
	calc := pricing.NewCalculator(input.Discounts, input.BookingFees)
	return calc.Quote(input.Outbound, input.Return, req.Passengers)
}

func (s *BookingService) CreateDraft(ctx context.Context, in CreateBookingInput) (*domain.Booking, error) {
	if in.BuyerEmail == "" {
		return nil, domain.E(domain.KindValidation, "buyer email is required")
	}
	if in.BuyerName == "" {
		return nil, domain.E(domain.KindValidation, "buyer name is required")
	}

	quoteInput, err := s.catalog.BuildQuoteInput(ctx, in.Outbound, in.Return)
	if err != nil {
		return nil, err
	}
	calc := pricing.NewCalculator(quoteInput.Discounts, quoteInput.BookingFees)
	quote, err := calc.Quote(quoteInput.Outbound, quoteInput.Return, in.Passengers)
	if err != nil {
		return nil, err
	}

	seats := in.Passengers.Seats()
	legs := []repository.LegReservation{{
		FlightTariffID: quoteInput.OutboundFT.ID,
		FlightID:       quoteInput.OutboundFT.FlightID,
		TariffID:       quoteInput.OutboundFT.TariffID,
		SeatsNumber:    seats,
		Direction:      0,
	}}
	if quoteInput.ReturnFT != nil {
		legs = append(legs, repository.LegReservation{
			FlightTariffID: quoteInput.ReturnFT.ID,
			FlightID:       quoteInput.ReturnFT.FlightID,
			TariffID:       quoteInput.ReturnFT.TariffID,
			SeatsNumber:    seats,
			Direction:      1,
		})
	}
	// Lock flight tariffs in id order; two concurrent round-trip
	// bookings over the same pair can otherwise deadlock.
	sort.Slice(legs, func(i, j int) bool { return legs[i].FlightTariffID < legs[j].FlightTariffID })

	snapshot, err := json.Marshal(quote)
	if err != nil {
		return nil, domain.Wrap(domain.KindFatal, "marshal quote snapshot", err)
	}

	booking := &domain.Booking{
		PublicID:      uuid.NewString(),
		AccessToken:   uuid.NewString(),
		UserID:        in.UserID,
		BuyerName:     in.BuyerName,
		BuyerEmail:    in.BuyerEmail,
		BuyerPhone:    in.BuyerPhone,
		Currency:      quote.Currency,
		FareTotal:     quote.FareTotal,
		DiscountTotal: quote.DiscountTotal,
		FeeTotal:      quote.FeeTotal,
		FinalTotal:    quote.FinalTotal,
		QuoteSnapshot: snapshot,
		Counts:        in.Passengers,
	}

	holdExpires := time.Now().UTC().Add(s.confirmationTTL)
	if err := s.bookings.CreateDraft(ctx, booking, legs, holdExpires); err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventBookingCreated, booking, "")
	return booking, nil
}

// GetByAccess grants the guest view to a caller presenting the access
// token, and the owner view to the authenticated owner. Knowing the
// public id alone grants nothing.
func (s *BookingService) GetByAccess(ctx context.Context, publicID, accessToken string, userID *int64) (*domain.Booking, error) {
	booking, err := s.bookings.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if accessToken != "" && booking.AccessToken == accessToken {
		return booking, nil
	}
	if userID != nil && booking.UserID != nil && *booking.UserID == *userID {
		return booking, nil
	}
	return nil, domain.ErrAccessDenied
}

func (s *BookingService) Details(ctx context.Context, publicID, accessToken string, userID *int64) (*BookingDetails, error) {
	booking, err := s.GetByAccess(ctx, publicID, accessToken, userID)
	if err != nil {
		return nil, err
	}

	details := &BookingDetails{Booking: booking}
	if details.Flights, err = s.bookings.GetFlights(ctx, booking.ID); err != nil {
		return nil, err
	}
	if details.Passengers, err = s.bookings.ListPassengers(ctx, booking.ID); err != nil {
		return nil, err
	}
	if details.StatusHistory, err = s.bookings.StatusHistory(ctx, booking.ID); err != nil {
		return nil, err
	}
	if booking.Status == domain.BookingStatusCompleted {
		if details.FlightPassengers, err = s.bookings.ListFlightPassengers(ctx, booking.ID); err != nil {
			return nil, err
		}
	}
	hold, err := s.bookings.GetHold(ctx, booking.ID)
	if err != nil {
		// A booking legitimately has no hold once it is purged; anything
		// else is a real failure, not a hold-less snapshot.
		if domain.KindOf(err) != domain.KindNotFound {
			return nil, err
		}
	} else {
		details.Hold = hold
	}
	return details, nil
}

func (s *BookingService) AssignPassengers(ctx context.Context, in AssignPassengersInput) (*domain.Booking, error) {
	booking, err := s.GetByAccess(ctx, in.PublicID, in.AccessToken, in.UserID)
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingStatusDraft && booking.Status != domain.BookingStatusPassengersAdded {
		return nil, domain.Ef(domain.KindConflict, "cannot assign passengers in status %s", booking.Status)
	}

	if err := validatePassengerSet(in.Passengers, booking.Counts); err != nil {
		return nil, err
	}

	assignments := make([]repository.PassengerAssignment, 0, len(in.Passengers))
	for _, p := range in.Passengers {
		assignments = append(assignments, repository.PassengerAssignment{
			Passenger: domain.Passenger{
				UserID:         in.UserID,
				FirstName:      p.FirstName,
				LastName:       p.LastName,
				MiddleName:     p.MiddleName,
				Gender:         p.Gender,
				BirthDate:      p.BirthDate,
				DocumentType:   p.DocumentType,
				DocumentNumber: p.DocumentNumber,
				DocumentExpiry: p.DocumentExpiry,
				Citizenship:    p.Citizenship,
			},
			Category: p.Category,
		})
	}

	bookingPassengers, err := s.bookings.ReplacePassengers(ctx, booking.ID, assignments)
	if err != nil {
		return nil, err
	}

	// Re-submitting passengers while already in passengers_added is a
	// replace, not a transition.
	if booking.Status == domain.BookingStatusDraft {
		if booking, err = s.bookings.UpdateStatus(ctx, booking.ID, domain.BookingStatusPassengersAdded); err != nil {
			return nil, err
		}
	}

	if s.consents != nil && (in.AcceptPolicy || in.AcceptOffer) {
		passengerIDs := make([]int64, 0, len(bookingPassengers))
		for _, bp := range bookingPassengers {
			passengerIDs = append(passengerIDs, bp.PassengerID)
		}
		if in.AcceptPolicy {
			if err := s.consents.RecordAgreement(ctx, domain.ConsentDocPolicy, booking.ID, in.UserID, passengerIDs, in.Client); err != nil {
				s.log.Warn().Err(err).Str("booking", booking.PublicID).Msg("failed to record policy consent")
			}
		}
		if in.AcceptOffer {
			if err := s.consents.RecordAgreement(ctx, domain.ConsentDocOffer, booking.ID, in.UserID, passengerIDs, in.Client); err != nil {
				s.log.Warn().Err(err).Str("booking", booking.PublicID).Msg("failed to record offer consent")
			}
		}
	}

	s.publish(ctx, domain.EventPassengersAssigned, booking, "")
	return booking, nil
}

func validatePassengerSet(passengers []PassengerInput, counts domain.PassengerCounts) error {
	fields := map[string]string{}
	var got domain.PassengerCounts
	for i, p := range passengers {
		if p.FirstName == "" || p.LastName == "" {
			fields[fieldAt(i, "name")] = "first and last name are required"
		}
		if p.DocumentNumber == "" {
			fields[fieldAt(i, "document_number")] = "document number is required"
		}
		switch p.Category {
		case domain.CategoryAdult:
			got.Adults++
		case domain.CategoryChild:
			got.Children++
		case domain.CategoryInfant:
			got.Infants++
		case domain.CategoryInfantSeat:
			got.InfantsSeat++
		default:
			fields[fieldAt(i, "category")] = "unknown passenger category"
		}
	}
	if len(fields) > 0 {
		return domain.ValidationError(fields)
	}
	if got != counts {
		return domain.E(domain.KindValidation, "passenger set does not match the booked counts")
	}
	return nil
}

func fieldAt(i int, name string) string {
	return "passengers[" + strconv.Itoa(i) + "]." + name
}

func (s *BookingService) AdminCancel(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	booking, err := s.bookings.UpdateStatus(ctx, bookingID, domain.BookingStatusCancelled)
	if err != nil {
		return nil, err
	}
	// Cancellation releases inventory immediately: no hold, no seats.
	if err := s.bookings.DropHold(ctx, bookingID); err != nil {
		s.log.Error().Err(err).Int64("booking_id", bookingID).Msg("failed to drop hold after cancel")
	}
	s.publish(ctx, domain.EventBookingCancelled, booking, "")
	return booking, nil
}

func (s *BookingService) AvailableSeats(ctx context.Context, flightTariffID int64) (*domain.SeatAvailability, error) {
	return s.bookings.AvailableSeats(ctx, flightTariffID)
}

func (s *BookingService) publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking, paymentURL string) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       string(eventType),
		PublicID:   booking.PublicID,
		Status:     string(booking.Status),
		BuyerEmail: booking.BuyerEmail,
		BuyerName:  booking.BuyerName,
		Currency:   booking.Currency,
		FinalTotal: booking.FinalTotal,
		PaymentURL: paymentURL,
		OccurredAt: time.Now().UTC(),
	}
	if booking.BookingNumber != nil {
		event.BookingNumber = *booking.BookingNumber
	}
	if err := s.producer.Publish(ctx, s.bookingTopic, booking.PublicID, event); err != nil {
		s.log.Warn().Err(err).Str("booking", booking.PublicID).Str("event", string(eventType)).Msg("failed to publish booking event")
	}
	if s.notificationsTopic != "" && eventType == domain.EventBookingCompleted {
		if err := s.producer.Publish(ctx, s.notificationsTopic, booking.PublicID, event); err != nil {
			s.log.Warn().Err(err).Str("booking", booking.PublicID).Msg("failed to publish notification")
		}
	}
}

var _ BookingUseCase = (*BookingService)(nil)
