package email

import (
	"context"
	"fmt"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/kafka"
	"github.com/rs/zerolog"
)

// Sender renders notification emails off the booking event stream.
// Delivery is stubbed to the log; the SMTP relay sits behind this in
// production.
type Sender struct {
	log       zerolog.Logger
	clientURL string
}

func NewSender(log zerolog.Logger, clientURL string) *Sender {
	return &Sender{log: log, clientURL: clientURL}
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	if event.BuyerEmail == "" {
		s.log.Warn().Str("event", event.Type).Str("booking", event.PublicID).Msg("event without buyer email skipped")
		return nil
	}

	subject, body := s.render(event)
	if subject == "" {
		return nil
	}

	s.log.Info().
		Str("to", event.BuyerEmail).
		Str("subject", subject).
		Str("booking", event.PublicID).
		Msg("email sent")
	_ = body
	return nil
}

func (s *Sender) render(event kafka.BookingEvent) (string, string) {
	switch domain.BookingEventType(event.Type) {
	case domain.EventBookingConfirmed:
		if event.PaymentURL == "" {
			return "", ""
		}
		return "Your invoice is ready",
			fmt.Sprintf("Hello %s,\n\nPay for your booking here: %s\n\nTotal: %s %s\n",
				event.BuyerName, event.PaymentURL, event.FinalTotal.StringFixed(2), event.Currency)
	case domain.EventBookingCompleted:
		return fmt.Sprintf("Booking %s is confirmed", event.BookingNumber),
			fmt.Sprintf("Hello %s,\n\nYour booking %s is paid and ticketed.\nManage it at %s/booking/%s\n",
				event.BuyerName, event.BookingNumber, s.clientURL, event.PublicID)
	case domain.EventBookingExpired:
		return "Your booking has expired",
			fmt.Sprintf("Hello %s,\n\nBooking %s expired before payment. Seats were released.\n",
				event.BuyerName, event.PublicID)
	case domain.EventPaymentFailed:
		return "Payment failed",
			fmt.Sprintf("Hello %s,\n\nThe payment for booking %s did not go through. You can retry at %s/booking/%s\n",
				event.BuyerName, event.PublicID, s.clientURL, event.PublicID)
	}
	return "", ""
}
