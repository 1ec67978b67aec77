package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkorchagin/skyfare/config"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/shopspring/decimal"
)

// Client talks to the payment provider REST API. Calls are made
// outside database transactions and carry a bounded timeout; an
// Idempotence-Key header makes create/capture/refund safe to retry.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func NewAmount(value decimal.Decimal, currency string) Amount {
	return Amount{Value: value.StringFixed(2), Currency: currency}
}

type Confirmation struct {
	Type              string `json:"type"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	ConfirmationURL   string `json:"confirmation_url,omitempty"`
	ReturnURL         string `json:"return_url,omitempty"`
}

type PaymentObject struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	CapturedAt   *time.Time        `json:"captured_at,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type createPaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreatePayment opens an embedded-checkout payment; the returned
// confirmation token goes to the client widget.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, idempotenceKey string, metadata map[string]string) (*PaymentObject, error) {
	req := createPaymentRequest{
		Amount:       NewAmount(amount, currency),
		Capture:      false,
		Confirmation: Confirmation{Type: "embedded"},
		Description:  description,
		Metadata:     metadata,
	}
	var obj PaymentObject
	if err := c.do(ctx, http.MethodPost, "/payments", idempotenceKey, req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

type createInvoiceRequest struct {
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type InvoiceObject struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	PaymentURL string     `json:"payment_url"`
	Amount     Amount     `json:"amount"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// CreateInvoice opens a link-based payment; the URL is emailed to the
// buyer.
func (c *Client) CreateInvoice(ctx context.Context, amount decimal.Decimal, currency, description, idempotenceKey string, metadata map[string]string) (*InvoiceObject, error) {
	req := createInvoiceRequest{
		Amount:      NewAmount(amount, currency),
		Description: description,
		Metadata:    metadata,
	}
	var obj InvoiceObject
	if err := c.do(ctx, http.MethodPost, "/invoices", idempotenceKey, req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) GetPayment(ctx context.Context, providerID string) (*PaymentObject, error) {
	var obj PaymentObject
	if err := c.do(ctx, http.MethodGet, "/payments/"+providerID, "", nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

type captureRequest struct {
	Amount Amount `json:"amount"`
}

// Capture settles an authorized payment for the given amount.
func (c *Client) Capture(ctx context.Context, providerID string, amount decimal.Decimal, currency, idempotenceKey string) (*PaymentObject, error) {
	var obj PaymentObject
	req := captureRequest{Amount: NewAmount(amount, currency)}
	if err := c.do(ctx, http.MethodPost, "/payments/"+providerID+"/capture", idempotenceKey, req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

type refundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    Amount `json:"amount"`
}

type RefundObject struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    Amount `json:"amount"`
}

func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, currency, idempotenceKey string) (*RefundObject, error) {
	var obj RefundObject
	req := refundRequest{PaymentID: paymentID, Amount: NewAmount(amount, currency)}
	if err := c.do(ctx, http.MethodPost, "/refunds", idempotenceKey, req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotenceKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal provider request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindTransient, "provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Wrap(domain.KindTransient, "read provider response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return domain.Ef(domain.KindTransient, "provider returned %d: %s", resp.StatusCode, data)
	case resp.StatusCode >= 400:
		return domain.Ef(domain.KindConflict, "provider rejected request with %d: %s", resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}
