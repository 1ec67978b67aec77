package consent

import (
	"context"

	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/repository"
	"github.com/pkorchagin/skyfare/internal/service/booking"
	"github.com/rs/zerolog"
)

type ConsentUseCase interface {
	Current(ctx context.Context, docType domain.ConsentDocType) (*domain.ConsentDoc, error)
	Publish(ctx context.Context, docType domain.ConsentDocType, content string) (*domain.ConsentDoc, error)
	Record(ctx context.Context, input RecordInput) (*domain.ConsentEvent, error)
	RecordAgreement(ctx context.Context, docType domain.ConsentDocType, bookingID int64, userID *int64, passengerIDs []int64, meta booking.ClientMetadata) error
}

type RecordInput struct {
	DocID        int64                `json:"doc_id"`
	Action       domain.ConsentAction `json:"action"`
	UserID       *int64               `json:"user_id,omitempty"`
	BookingID    *int64               `json:"booking_id,omitempty"`
	PassengerIDs []int64              `json:"passenger_ids,omitempty"`
	ClientIP     string               `json:"-"`
	UserAgent    string               `json:"-"`
	Fingerprint  string               `json:"fingerprint,omitempty"`
}

type ConsentService struct {
	repo repository.ConsentRepository
	log  zerolog.Logger
}

func NewConsentService(repo repository.ConsentRepository, log zerolog.Logger) *ConsentService {
	return &ConsentService{repo: repo, log: log}
}

func (s *ConsentService) Current(ctx context.Context, docType domain.ConsentDocType) (*domain.ConsentDoc, error) {
	switch docType {
	case domain.ConsentDocPolicy, domain.ConsentDocOffer:
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown consent document type %q", docType)
	}
	return s.repo.Current(ctx, docType)
}

// Publish installs new document content. Content already agreed to is
// never rewritten; the repository forks a fresh version instead.
func (s *ConsentService) Publish(ctx context.Context, docType domain.ConsentDocType, content string) (*domain.ConsentDoc, error) {
	switch docType {
	case domain.ConsentDocPolicy, domain.ConsentDocOffer:
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown consent document type %q", docType)
	}
	if content == "" {
		return nil, domain.E(domain.KindValidation, "document content is required")
	}
	doc, err := s.repo.UpsertDoc(ctx, docType, content)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("type", string(docType)).Int("version", doc.Version).Msg("consent document published")
	return doc, nil
}

func (s *ConsentService) Record(ctx context.Context, input RecordInput) (*domain.ConsentEvent, error) {
	switch input.Action {
	case domain.ConsentAgree, domain.ConsentWithdraw:
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown consent action %q", input.Action)
	}

	// The referenced doc must exist; the event pins its exact version.
	if _, err := s.repo.GetDoc(ctx, input.DocID); err != nil {
		return nil, err
	}

	ev := &domain.ConsentEvent{
		DocID:        input.DocID,
		Action:       input.Action,
		UserID:       input.UserID,
		BookingID:    input.BookingID,
		ClientIP:     input.ClientIP,
		UserAgent:    input.UserAgent,
		Fingerprint:  input.Fingerprint,
		PassengerIDs: input.PassengerIDs,
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// RecordAgreement pins the current version of the document for a
// booking flow acceptance.
func (s *ConsentService) RecordAgreement(ctx context.Context, docType domain.ConsentDocType, bookingID int64, userID *int64, passengerIDs []int64, meta booking.ClientMetadata) error {
	doc, err := s.repo.Current(ctx, docType)
	if err != nil {
		return err
	}
	ev := &domain.ConsentEvent{
		DocID:        doc.ID,
		Action:       domain.ConsentAgree,
		UserID:       userID,
		BookingID:    &bookingID,
		ClientIP:     meta.IP,
		UserAgent:    meta.UserAgent,
		Fingerprint:  meta.Fingerprint,
		PassengerIDs: passengerIDs,
	}
	return s.repo.AppendEvent(ctx, ev)
}

var _ ConsentUseCase = (*ConsentService)(nil)
var _ booking.ConsentRecorder = (*ConsentService)(nil)
