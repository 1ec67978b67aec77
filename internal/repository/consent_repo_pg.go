package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/internal/domain"
)

type ConsentRepository interface {
	Current(ctx context.Context, docType domain.ConsentDocType) (*domain.ConsentDoc, error)
	GetDoc(ctx context.Context, id int64) (*domain.ConsentDoc, error)
	// UpsertDoc updates the latest version in place when it has no
	// events yet, and forks version max+1 when it does. Same-content
	// updates are no-ops either way.
	UpsertDoc(ctx context.Context, docType domain.ConsentDocType, content string) (*domain.ConsentDoc, error)
	AppendEvent(ctx context.Context, ev *domain.ConsentEvent) error
	CountEvents(ctx context.Context, docID int64) (int64, error)
}

type PGConsentRepository struct {
	db *pgxpool.Pool
}

func NewConsentRepository(db *pgxpool.Pool) *PGConsentRepository {
	return &PGConsentRepository{db: db}
}

func scanConsentDoc(row pgx.Row) (*domain.ConsentDoc, error) {
	var d domain.ConsentDoc
	if err := row.Scan(&d.ID, &d.Type, &d.Version, &d.Content, &d.Hash, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PGConsentRepository) Current(ctx context.Context, docType domain.ConsentDocType) (*domain.ConsentDoc, error) {
	doc, err := scanConsentDoc(r.db.QueryRow(ctx, `SELECT id, type, version, content, hash, created_at FROM consent_docs WHERE type=$1 ORDER BY version DESC LIMIT 1`, docType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "no %s document published", docType)
	}
	return doc, err
}

func (r *PGConsentRepository) GetDoc(ctx context.Context, id int64) (*domain.ConsentDoc, error) {
	doc, err := scanConsentDoc(r.db.QueryRow(ctx, `SELECT id, type, version, content, hash, created_at FROM consent_docs WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "consent doc %d not found", id)
	}
	return doc, err
}

func (r *PGConsentRepository) UpsertDoc(ctx context.Context, docType domain.ConsentDocType, content string) (*domain.ConsentDoc, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	// Per-type advisory lock serialises version allocation.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('consent_doc:' || $1::text))`, docType); err != nil {
		return nil, err
	}

	hash := domain.ContentHash(content)

	current, err := scanConsentDoc(tx.QueryRow(ctx, `SELECT id, type, version, content, hash, created_at FROM consent_docs WHERE type=$1 ORDER BY version DESC LIMIT 1 FOR UPDATE`, docType))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		doc, err := insertConsentDoc(ctx, tx, docType, 1, content, hash)
		if err != nil {
			return nil, err
		}
		return doc, tx.Commit(ctx)
	case err != nil:
		return nil, err
	}

	if current.Hash == hash {
		return current, tx.Rollback(ctx)
	}

	var events int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM consent_events WHERE doc_id=$1`, current.ID).Scan(&events); err != nil {
		return nil, err
	}

	if events == 0 {
		doc, err := scanConsentDoc(tx.QueryRow(ctx, `UPDATE consent_docs SET content=$1, hash=$2 WHERE id=$3 RETURNING id, type, version, content, hash, created_at`, content, hash, current.ID))
		if err != nil {
			return nil, err
		}
		return doc, tx.Commit(ctx)
	}

	// Referenced content is immutable; fork the next version.
	doc, err := insertConsentDoc(ctx, tx, docType, current.Version+1, content, hash)
	if err != nil {
		return nil, err
	}
	return doc, tx.Commit(ctx)
}

func insertConsentDoc(ctx context.Context, tx pgx.Tx, docType domain.ConsentDocType, version int, content, hash string) (*domain.ConsentDoc, error) {
	return scanConsentDoc(tx.QueryRow(ctx, `INSERT INTO consent_docs (type, version, content, hash)
		VALUES ($1,$2,$3,$4) RETURNING id, type, version, content, hash, created_at`,
		docType, version, content, hash))
}

func (r *PGConsentRepository) AppendEvent(ctx context.Context, ev *domain.ConsentEvent) error {
	return r.db.QueryRow(ctx, `INSERT INTO consent_events (doc_id, action, user_id, booking_id, client_ip, user_agent, fingerprint, passenger_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		ev.DocID, ev.Action, ev.UserID, ev.BookingID, ev.ClientIP, ev.UserAgent, ev.Fingerprint, ev.PassengerIDs).
		Scan(&ev.ID, &ev.CreatedAt)
}

func (r *PGConsentRepository) CountEvents(ctx context.Context, docID int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM consent_events WHERE doc_id=$1`, docID).Scan(&n)
	return n, err
}

var _ ConsentRepository = (*PGConsentRepository)(nil)
