package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypePayment PaymentType = "payment"
	PaymentTypeInvoice PaymentType = "invoice"
	PaymentTypeRefund  PaymentType = "refund"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusCanceled          PaymentStatus = "canceled"
)

type Payment struct {
	ID                int64
	BookingID         int64
	ProviderID        string
	Type              PaymentType
	Status            PaymentStatus
	Method            string
	Amount            decimal.Decimal
	Currency          string
	ConfirmationToken string
	PaymentURL        string
	LastWebhook       []byte
	PaidAt            *time.Time
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookEventType is the closed set of provider notifications we
// accept; anything else is rejected at parse time.
type WebhookEventType string

const (
	WebhookPaymentWaitingForCapture WebhookEventType = "payment.waiting_for_capture"
	WebhookPaymentSucceeded         WebhookEventType = "payment.succeeded"
	WebhookPaymentCanceled          WebhookEventType = "payment.canceled"
	WebhookInvoiceWaitingForCapture WebhookEventType = "invoice.waiting_for_capture"
	WebhookInvoicePaid              WebhookEventType = "invoice.paid"
	WebhookInvoiceCanceled          WebhookEventType = "invoice.canceled"
	WebhookRefundSucceeded          WebhookEventType = "refund.succeeded"
)

func ParseWebhookEvent(s string) (WebhookEventType, bool) {
	switch e := WebhookEventType(s); e {
	case WebhookPaymentWaitingForCapture, WebhookPaymentSucceeded, WebhookPaymentCanceled,
		WebhookInvoiceWaitingForCapture, WebhookInvoicePaid, WebhookInvoiceCanceled,
		WebhookRefundSucceeded:
		return e, true
	}
	return "", false
}

// WebhookEvent is the parsed, typed form of a provider notification.
type WebhookEvent struct {
	Type       WebhookEventType
	ProviderID string
	Status     PaymentStatus
	Paid       bool
	CapturedAt *time.Time
	Amount     decimal.Decimal
	Currency   string
	Raw        []byte
}
