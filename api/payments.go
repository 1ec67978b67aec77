package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/service/booking"
	"github.com/pkorchagin/skyfare/internal/service/payment"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	bookings booking.BookingUseCase
	payments payment.PaymentUseCase
	log      zerolog.Logger
}

func NewPaymentHandler(bookings booking.BookingUseCase, payments payment.PaymentUseCase, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{bookings: bookings, payments: payments, log: log}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/:public_id/confirm", h.confirm)
	router.GET("/:public_id/payment", h.latestPayment)
	router.POST("/:public_id/refund", h.refund)
}

func (h *PaymentHandler) RegisterWebhooks(router *gin.RouterGroup) {
	router.POST("/yookassa", h.webhook)
}

type confirmRequest struct {
	Instrument string `json:"instrument"`
}

func (h *PaymentHandler) confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Instrument == "" {
		req.Instrument = string(domain.PaymentTypePayment)
	}

	b, err := h.bookings.GetByAccess(c.Request.Context(), c.Param("public_id"), accessToken(c), userID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	p, err := h.payments.Confirm(c.Request.Context(), b, domain.PaymentType(req.Instrument))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking_status":     b.Status,
		"payment_type":       p.Type,
		"provider_id":        p.ProviderID,
		"confirmation_token": p.ConfirmationToken,
		"payment_url":        p.PaymentURL,
		"expires_at":         p.ExpiresAt,
	})
}

func (h *PaymentHandler) latestPayment(c *gin.Context) {
	b, err := h.bookings.GetByAccess(c.Request.Context(), c.Param("public_id"), accessToken(c), userID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	p, err := h.payments.LatestPayment(c.Request.Context(), b.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	FlightPassengerID int64 `json:"flight_passenger_id"`
}

func (h *PaymentHandler) refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FlightPassengerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flight_passenger_id is required"})
		return
	}

	b, err := h.bookings.GetByAccess(c.Request.Context(), c.Param("public_id"), accessToken(c), userID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	result, err := h.payments.RequestRefund(c.Request.Context(), b, req.FlightPassengerID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// webhookNotification is the provider's envelope.
type webhookNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID         string     `json:"id"`
		Status     string     `json:"status"`
		Paid       bool       `json:"paid"`
		CapturedAt *time.Time `json:"captured_at"`
		Amount     struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
	} `json:"object"`
}

// webhook acknowledges with 200 on anything it can attribute, even
// no-ops, so the provider stops retrying. Only malformed bodies and
// unknown event types get 400.
func (h *PaymentHandler) webhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var note webhookNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed notification"})
		return
	}

	eventType, ok := domain.ParseWebhookEvent(note.Event)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}
	if note.Object.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing object id"})
		return
	}

	amount := decimal.Zero
	if note.Object.Amount.Value != "" {
		if amount, err = decimal.NewFromString(note.Object.Amount.Value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed amount"})
			return
		}
	}

	event := domain.WebhookEvent{
		Type:       eventType,
		ProviderID: note.Object.ID,
		Status:     domain.PaymentStatus(note.Object.Status),
		Paid:       note.Object.Paid,
		CapturedAt: note.Object.CapturedAt,
		Amount:     amount,
		Currency:   note.Object.Amount.Currency,
		Raw:        raw,
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), event); err != nil {
		h.log.Error().Err(err).Str("provider_id", event.ProviderID).Str("event", note.Event).Msg("webhook processing failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
