package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/pkorchagin/skyfare/internal/pricing"
	"github.com/pkorchagin/skyfare/internal/provider/yookassa"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/pkorchagin/skyfare/internal/service/catalog"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type PaymentUseCase interface {
	Confirm(ctx context.Context, booking *domain.Booking, instrument domain.PaymentType) (*domain.Payment, error)
	LatestPayment(ctx context.Context, bookingID int64) (*domain.Payment, error)
	HandleWebhook(ctx context.Context, event domain.WebhookEvent) error
	RequestRefund(ctx context.Context, booking *domain.Booking, flightPassengerID int64) (*RefundResult, error)
}

// ProviderClient is the outbound provider surface; calls happen outside
// any database transaction.
type ProviderClient interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, idempotenceKey string, metadata map[string]string) (*yookassa.PaymentObject, error)
	CreateInvoice(ctx context.Context, amount decimal.Decimal, currency, description, idempotenceKey string, metadata map[string]string) (*yookassa.InvoiceObject, error)
	GetPayment(ctx context.Context, providerID string) (*yookassa.PaymentObject, error)
	Capture(ctx context.Context, providerID string, amount decimal.Decimal, currency, idempotenceKey string) (*yookassa.PaymentObject, error)
	CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, currency, idempotenceKey string) (*yookassa.RefundObject, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type RefundResult struct {
	FlightPassengerID int64           `json:"flight_passenger_id"`
	RefundID          string          `json:"refund_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	FeeTotal          decimal.Decimal `json:"fee_total"`
}

type PaymentService struct {
	bookings           repository.BookingRepository
	payments           repository.PaymentRepository
	catalog            catalog.CatalogUseCase
	provider           ProviderClient
	producer           Producer
	log                zerolog.Logger
	bookingTopic       string
	notificationsTopic string
	paymentTTL         time.Duration
	invoiceTTL         time.Duration
}

func NewPaymentService(
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	catalogSvc catalog.CatalogUseCase,
	provider ProviderClient,
	producer Producer,
	log zerolog.Logger,
	bookingTopic, notificationsTopic string,
	paymentTTL, invoiceTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		bookings:           bookings,
		payments:           payments,
		catalog:            catalogSvc,
		provider:           provider,
		producer:           producer,
		log:                log,
		bookingTopic:       bookingTopic,
		notificationsTopic: notificationsTopic,
		paymentTTL:         paymentTTL,
		invoiceTTL:         invoiceTTL,
	}
}

// Confirm requests a provider payment or invoice for the booking and
// moves it to payment_pending. The hold is extended first and the
// provider is called before any status change commits, so a provider
// failure leaves the booking where it was.
func (s *PaymentService) Confirm(ctx context.Context, booking *domain.Booking, instrument domain.PaymentType) (*domain.Payment, error) {
	switch instrument {
	case domain.PaymentTypePayment, domain.PaymentTypeInvoice:
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown payment instrument %q", instrument)
	}
	if booking.Status != domain.BookingStatusPassengersAdded && booking.Status != domain.BookingStatusPaymentFailed {
		return nil, domain.Ef(domain.KindConflict, "cannot confirm booking in status %s", booking.Status)
	}

	ttl := s.paymentTTL
	if instrument == domain.PaymentTypeInvoice {
		ttl = s.invoiceTTL
	}
	expiresAt := time.Now().UTC().Add(ttl)
	if err := s.bookings.SetHold(ctx, booking.ID, expiresAt); err != nil {
		return nil, err
	}

	payment := &domain.Payment{
		BookingID: booking.ID,
		Type:      instrument,
		Status:    domain.PaymentStatusPending,
		Method:    "yookassa",
		Amount:    booking.FinalTotal,
		Currency:  booking.Currency,
		ExpiresAt: &expiresAt,
	}
	metadata := map[string]string{"booking_public_id": booking.PublicID}
	description := "Flight booking " + booking.PublicID

	idemKey := uuid.NewString()
	switch instrument {
	case domain.PaymentTypePayment:
		obj, err := s.provider.CreatePayment(ctx, booking.FinalTotal, booking.Currency, description, idemKey, metadata)
		if err != nil {
			return nil, err
		}
		payment.ProviderID = obj.ID
		if obj.Confirmation != nil {
			payment.ConfirmationToken = obj.Confirmation.ConfirmationToken
		}
	case domain.PaymentTypeInvoice:
		obj, err := s.provider.CreateInvoice(ctx, booking.FinalTotal, booking.Currency, description, idemKey, metadata)
		if err != nil {
			return nil, err
		}
		payment.ProviderID = obj.ID
		payment.PaymentURL = obj.PaymentURL
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	updated, err := s.bookings.UpdateStatus(ctx, booking.ID, domain.BookingStatusPaymentPending)
	if err != nil {
		return nil, err
	}
	*booking = *updated

	s.publish(ctx, domain.EventBookingConfirmed, booking, payment.PaymentURL)
	return payment, nil
}

func (s *PaymentService) LatestPayment(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	return s.payments.LatestByBookingID(ctx, bookingID)
}

// HandleWebhook applies one provider notification. Redeliveries and
// out-of-order events are absorbed: processing is keyed by
// (provider_id, event, status) and terminal transitions replayed
// against the state machine are silent no-ops. The key is released
// again when the side effects fail, so the delivery the provider
// retries after a 5xx is not mistaken for a duplicate.
func (s *PaymentService) HandleWebhook(ctx context.Context, event domain.WebhookEvent) error {
	if _, err := s.payments.GetByProviderID(ctx, event.ProviderID); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			// Not ours. Acknowledge so the provider stops retrying.
			s.log.Warn().Str("provider_id", event.ProviderID).Str("event", string(event.Type)).Msg("webhook for unknown payment ignored")
			return nil
		}
		return err
	}

	fresh, err := s.payments.MarkProcessed(ctx, event.ProviderID, event.Type, event.Status)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Debug().Str("provider_id", event.ProviderID).Str("event", string(event.Type)).Msg("duplicate webhook skipped")
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		if uerr := s.payments.UnmarkProcessed(ctx, event.ProviderID, event.Type, event.Status); uerr != nil {
			s.log.Error().Err(uerr).Str("provider_id", event.ProviderID).Str("event", string(event.Type)).Msg("failed to release webhook processing claim")
		}
		return err
	}
	return nil
}

func (s *PaymentService) applyEvent(ctx context.Context, event domain.WebhookEvent) error {
	var paidAt *time.Time
	if event.Paid && event.CapturedAt != nil {
		paidAt = event.CapturedAt
	}
	payment, err := s.payments.ApplyWebhook(ctx, event.ProviderID, event.Status, event.Raw, paidAt)
	if err != nil {
		return err
	}

	switch event.Type {
	case domain.WebhookPaymentWaitingForCapture, domain.WebhookInvoiceWaitingForCapture:
		return s.onWaitingForCapture(ctx, payment)
	case domain.WebhookPaymentCanceled, domain.WebhookInvoiceCanceled:
		return s.onCanceled(ctx, payment)
	case domain.WebhookPaymentSucceeded, domain.WebhookInvoicePaid:
		return s.onSucceeded(ctx, payment)
	case domain.WebhookRefundSucceeded:
		// Payment row already updated above; ticket status was flipped
		// when the refund was requested.
		return nil
	}
	return domain.Ef(domain.KindValidation, "unhandled webhook event %s", event.Type)
}

func (s *PaymentService) onWaitingForCapture(ctx context.Context, payment *domain.Payment) error {
	// The webhook body is not trusted on its own; re-read the payment
	// from the provider before moving money.
	obj, err := s.provider.GetPayment(ctx, payment.ProviderID)
	if err != nil {
		return err
	}
	if obj.Status != string(domain.PaymentStatusWaitingForCapture) {
		s.log.Info().Str("provider_id", payment.ProviderID).Str("status", obj.Status).Msg("capture skipped, provider status moved on")
		return nil
	}

	number, err := s.bookings.AssignBookingNumber(ctx, payment.BookingID)
	if err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			// Booking expired or was cancelled while the webhook was in
			// flight; the authorization is left to lapse uncaptured.
			s.log.Info().Int64("booking_id", payment.BookingID).Msg("capture skipped, booking no longer payable")
			return nil
		}
		return err
	}
	s.log.Info().Str("booking_number", number).Int64("booking_id", payment.BookingID).Msg("booking number assigned")

	_, err = s.provider.Capture(ctx, payment.ProviderID, payment.Amount, payment.Currency, uuid.NewString())
	return err
}

func (s *PaymentService) onCanceled(ctx context.Context, payment *domain.Payment) error {
	booking, err := s.bookings.UpdateStatus(ctx, payment.BookingID, domain.BookingStatusPaymentFailed)
	if err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			// Stale or replayed cancellation against a settled booking.
			s.log.Info().Int64("booking_id", payment.BookingID).Msg("cancel webhook ignored for settled booking")
			return nil
		}
		return err
	}
	s.publish(ctx, domain.EventPaymentFailed, booking, "")
	return nil
}

func (s *PaymentService) onSucceeded(ctx context.Context, payment *domain.Payment) error {
	// Succeeded can outrun waiting_for_capture; make sure the number
	// exists before completion finalises the itinerary.
	if _, err := s.bookings.AssignBookingNumber(ctx, payment.BookingID); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			// Late success against an expired or cancelled booking.
			s.log.Info().Int64("booking_id", payment.BookingID).Msg("success webhook ignored, booking not payable")
			return nil
		}
		return err
	}

	result, err := s.bookings.CompleteBooking(ctx, payment.BookingID)
	if err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			s.log.Info().Int64("booking_id", payment.BookingID).Msg("success webhook ignored, booking not payable")
			return nil
		}
		return err
	}
	if result.AlreadyCompleted {
		return nil
	}

	s.publish(ctx, domain.EventPaymentConfirmed, result.Booking, "")
	s.publish(ctx, domain.EventBookingCompleted, result.Booking, "")
	return nil
}

// RequestRefund checks eligibility, computes the refundable amount from
// the stored quote and the time-scoped cancellation fees, and issues a
// provider refund against the last settled payment.
func (s *PaymentService) RequestRefund(ctx context.Context, booking *domain.Booking, flightPassengerID int64) (*RefundResult, error) {
	if booking.Status != domain.BookingStatusCompleted {
		return nil, domain.E(domain.KindConflict, "only completed bookings are refundable")
	}

	bfp, err := s.bookings.GetFlightPassenger(ctx, flightPassengerID)
	if err != nil {
		return nil, err
	}
	if bfp.Status != domain.TicketStatusTicketed {
		return nil, domain.Ef(domain.KindConflict, "ticket is not refundable in status %s", bfp.Status)
	}

	legs, err := s.bookings.GetFlights(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	var leg *domain.BookingFlight
	for i := range legs {
		if legs[i].FlightID == bfp.FlightID {
			leg = &legs[i]
			break
		}
	}
	if leg == nil {
		return nil, domain.Ef(domain.KindFatal, "ticket %d references a flight outside its booking", flightPassengerID)
	}

	tariff, err := s.catalog.GetTariff(ctx, leg.TariffID)
	if err != nil {
		return nil, err
	}
	if !tariff.Refundable {
		return nil, domain.E(domain.KindConflict, "tariff does not permit refunds")
	}

	flight, err := s.catalog.GetFlight(ctx, leg.FlightID)
	if err != nil {
		return nil, err
	}
	term := domain.RefundFeeTerm(flight.Departure, time.Now().UTC())

	paid, err := s.ticketPaidAmount(ctx, booking, leg, bfp)
	if err != nil {
		return nil, err
	}

	fees, err := s.catalog.RefundFees(ctx, leg.TariffID, term)
	if err != nil {
		return nil, err
	}
	feeTotal := decimal.Zero
	for _, fee := range fees {
		feeTotal = feeTotal.Add(fee.Amount)
	}

	amount := paid.Sub(feeTotal).Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.E(domain.KindConflict, "cancellation fees exceed the amount paid")
	}

	lastPaid, err := s.payments.LastSucceededByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	if err := s.bookings.UpdateTicketStatus(ctx, bfp.ID, domain.TicketStatusTicketed, domain.TicketStatusRefundInProgress); err != nil {
		return nil, err
	}

	refund, err := s.provider.CreateRefund(ctx, lastPaid.ProviderID, amount, booking.Currency, uuid.NewString())
	if err != nil {
		// Put the ticket back so the passenger can retry.
		if revertErr := s.bookings.UpdateTicketStatus(ctx, bfp.ID, domain.TicketStatusRefundInProgress, domain.TicketStatusTicketed); revertErr != nil {
			s.log.Error().Err(revertErr).Int64("flight_passenger_id", bfp.ID).Msg("failed to revert ticket status after refund error")
		}
		return nil, err
	}

	refundPayment := &domain.Payment{
		BookingID:  booking.ID,
		ProviderID: refund.ID,
		Type:       domain.PaymentTypeRefund,
		Status:     domain.PaymentStatusSucceeded,
		Method:     "yookassa",
		Amount:     amount,
		Currency:   booking.Currency,
	}
	if err := s.payments.Create(ctx, refundPayment); err != nil {
		return nil, err
	}

	if err := s.bookings.UpdateTicketStatus(ctx, bfp.ID, domain.TicketStatusRefundInProgress, domain.TicketStatusRefunded); err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventTicketRefunded, booking, "")

	return &RefundResult{
		FlightPassengerID: bfp.ID,
		RefundID:          refund.ID,
		Amount:            amount,
		Currency:          booking.Currency,
		FeeTotal:          feeTotal,
	}, nil
}

// ticketPaidAmount extracts this passenger's share of the leg from the
// quote snapshot: the category line's net subtotal divided by its
// count.
func (s *PaymentService) ticketPaidAmount(ctx context.Context, booking *domain.Booking, leg *domain.BookingFlight, bfp *domain.BookingFlightPassenger) (decimal.Decimal, error) {
	if len(booking.QuoteSnapshot) == 0 {
		return decimal.Zero, domain.E(domain.KindFatal, "booking has no quote snapshot")
	}
	var quote pricing.Quote
	if err := json.Unmarshal(booking.QuoteSnapshot, &quote); err != nil {
		return decimal.Zero, domain.Wrap(domain.KindFatal, "corrupt quote snapshot", err)
	}

	category, err := s.passengerCategory(ctx, booking, bfp)
	if err != nil {
		return decimal.Zero, err
	}

	for _, dir := range quote.Directions {
		if dir.FlightTariffID != leg.FlightTariffID {
			continue
		}
		for _, line := range dir.Lines {
			if line.Category == category && line.Count > 0 {
				return line.NetSubtotal.Div(decimal.NewFromInt(int64(line.Count))).Round(2), nil
			}
		}
	}
	return decimal.Zero, domain.E(domain.KindFatal, "quote snapshot does not cover the ticket")
}

func (s *PaymentService) passengerCategory(ctx context.Context, booking *domain.Booking, bfp *domain.BookingFlightPassenger) (domain.PassengerCategory, error) {
	passengers, err := s.bookings.ListPassengers(ctx, booking.ID)
	if err != nil {
		return "", err
	}
	for _, bp := range passengers {
		if bp.ID == bfp.BookingPassengerID {
			return bp.Category, nil
		}
	}
	return "", domain.Ef(domain.KindFatal, "booking passenger %d not found", bfp.BookingPassengerID)
}

func (s *PaymentService) publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking, paymentURL string) {
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
	if s.notificationsTopic != "" && (eventType == domain.EventBookingCompleted || (eventType == domain.EventBookingConfirmed && paymentURL != "")) {
		if err := s.producer.Publish(ctx, s.notificationsTopic, booking.PublicID, event); err != nil {
			s.log.Warn().Err(err).Str("booking", booking.PublicID).Msg("failed to publish notification")
		}
	}
}

var _ PaymentUseCase = (*PaymentService)(nil)
