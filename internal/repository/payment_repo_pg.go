package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/internal/domain"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByProviderID(ctx context.Context, providerID string) (*domain.Payment, error)
	LatestByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error)
	LastSucceededByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error)
	ApplyWebhook(ctx context.Context, providerID string, status domain.PaymentStatus, raw []byte, paidAt *time.Time) (*domain.Payment, error)
	// MarkProcessed records the (provider_id, event, status) key and
	// reports whether this delivery is the first one.
	MarkProcessed(ctx context.Context, providerID string, event domain.WebhookEventType, status domain.PaymentStatus) (bool, error)
	// UnmarkProcessed releases the key so a failed delivery stays
	// retryable when the provider redelivers it.
	UnmarkProcessed(ctx context.Context, providerID string, event domain.WebhookEventType, status domain.PaymentStatus) error
}

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PGPaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, booking_id, provider_id, type, status, method, amount, currency, confirmation_token, payment_url, last_webhook, paid_at, expires_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.ProviderID, &p.Type, &p.Status, &p.Method,
		&p.Amount, &p.Currency, &p.ConfirmationToken, &p.PaymentURL, &p.LastWebhook,
		&p.PaidAt, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.QueryRow(ctx, `INSERT INTO payments (booking_id, provider_id, type, status, method, amount, currency, confirmation_token, payment_url, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at, updated_at`,
		p.BookingID, p.ProviderID, p.Type, p.Status, p.Method, p.Amount, p.Currency,
		p.ConfirmationToken, p.PaymentURL, p.ExpiresAt).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PGPaymentRepository) GetByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_id=$1`, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "payment %s not found", providerID)
	}
	return p, err
}

func (r *PGPaymentRepository) LatestByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 AND type IN ('payment','invoice') ORDER BY created_at DESC LIMIT 1`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %d has no payments", bookingID)
	}
	return p, err
}

func (r *PGPaymentRepository) LastSucceededByBookingID(ctx context.Context, bookingID int64) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=$1 AND type IN ('payment','invoice') AND status='succeeded' ORDER BY paid_at DESC LIMIT 1`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %d has no succeeded payment", bookingID)
	}
	return p, err
}

func (r *PGPaymentRepository) ApplyWebhook(ctx context.Context, providerID string, status domain.PaymentStatus, raw []byte, paidAt *time.Time) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `UPDATE payments
		SET status=$1, last_webhook=$2, paid_at=COALESCE($3, paid_at), updated_at=now()
		WHERE provider_id=$4
		RETURNING `+paymentColumns, status, raw, paidAt, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "payment %s not found", providerID)
	}
	return p, err
}

func (r *PGPaymentRepository) MarkProcessed(ctx context.Context, providerID string, event domain.WebhookEventType, status domain.PaymentStatus) (bool, error) {
	cmd, err := r.db.Exec(ctx, `INSERT INTO processed_webhooks (provider_id, event, status)
		VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, providerID, event, status)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGPaymentRepository) UnmarkProcessed(ctx context.Context, providerID string, event domain.WebhookEventType, status domain.PaymentStatus) error {
	_, err := r.db.Exec(ctx, `DELETE FROM processed_webhooks WHERE provider_id=$1 AND event=$2 AND status=$3`,
		providerID, event, status)
	return err
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
