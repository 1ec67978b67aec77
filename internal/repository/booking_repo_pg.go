package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/internal/domain"
)

type LegReservation struct {
	FlightTariffID int64
	FlightID       int64
	TariffID       int64
	SeatsNumber    int
	Direction      int
}

type CompletionResult struct {
	Booking          *domain.Booking
	FlightPassengers []domain.BookingFlightPassenger
	AlreadyCompleted bool
}

type BookingRepository interface {
	CreateDraft(ctx context.Context, b *domain.Booking, legs []LegReservation, holdExpires time.Time) error
	GetByPublicID(ctx context.Context, publicID string) (*domain.Booking, error)
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetFlights(ctx context.Context, bookingID int64) ([]domain.BookingFlight, error)
	GetHold(ctx context.Context, bookingID int64) (*domain.Hold, error)
	StatusHistory(ctx context.Context, bookingID int64) ([]domain.StatusLogEntry, error)

	// UpdateStatus locks the booking row, validates the edge against
	// the status graph and appends the status-log entry in the same
	// transaction. ErrIllegalTransition when the edge is not legal.
	UpdateStatus(ctx context.Context, bookingID int64, to domain.BookingStatus) (*domain.Booking, error)

	SetHold(ctx context.Context, bookingID int64, expiresAt time.Time) error
	DropHold(ctx context.Context, bookingID int64) error

	AvailableSeats(ctx context.Context, flightTariffID int64) (*domain.SeatAvailability, error)

	ReplacePassengers(ctx context.Context, bookingID int64, passengers []PassengerAssignment) ([]domain.BookingPassenger, error)
	ListPassengers(ctx context.Context, bookingID int64) ([]domain.BookingPassenger, error)

	AssignBookingNumber(ctx context.Context, bookingID int64) (string, error)
	CompleteBooking(ctx context.Context, bookingID int64) (*CompletionResult, error)

	ListFlightPassengers(ctx context.Context, bookingID int64) ([]domain.BookingFlightPassenger, error)
	GetFlightPassenger(ctx context.Context, id int64) (*domain.BookingFlightPassenger, error)
	UpdateTicketStatus(ctx context.Context, id int64, from, to domain.TicketStatus) error

	ExpireDueBookings(ctx context.Context, now time.Time) ([]domain.Booking, error)
	PurgeStaleHolds(ctx context.Context, olderThan time.Time) (int64, error)
}

type PassengerAssignment struct {
	Passenger domain.Passenger
	Category  domain.PassengerCategory
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) *PGBookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, public_id, access_token, booking_number, status, user_id, buyer_name, buyer_email, buyer_phone, currency, fare_total, discount_total, fee_total, final_total, quote_snapshot, adults, children, infants, infants_seat, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.PublicID, &b.AccessToken, &b.BookingNumber, &b.Status, &b.UserID,
		&b.BuyerName, &b.BuyerEmail, &b.BuyerPhone, &b.Currency,
		&b.FareTotal, &b.DiscountTotal, &b.FeeTotal, &b.FinalTotal, &b.QuoteSnapshot,
		&b.Counts.Adults, &b.Counts.Children, &b.Counts.Infants, &b.Counts.InfantsSeat,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// takenSeatsQuery counts seats that are either committed (completed
// bookings) or actively held (non-terminal booking with a live hold).
const takenSeatsQuery = `
	SELECT COALESCE(SUM(bf.seats_number), 0)
	FROM booking_flights bf
	JOIN bookings b ON b.id = bf.booking_id
	LEFT JOIN booking_holds h ON h.booking_id = b.id
	WHERE bf.flight_tariff_id = $1
	  AND (b.status = 'completed'
	       OR (b.status NOT IN ('completed', 'expired', 'cancelled')
	           AND h.booking_id IS NOT NULL AND h.expires_at > $2))`

func (r *PGBookingRepository) CreateDraft(ctx context.Context, b *domain.Booking, legs []LegReservation, holdExpires time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// Lock every flight tariff involved before checking availability;
	// ordering by id keeps concurrent two-leg bookings deadlock-free.
	for _, leg := range legs {
		var total int
		if err := tx.QueryRow(ctx, `SELECT total_seats FROM flight_tariffs WHERE id=$1 FOR UPDATE`, leg.FlightTariffID).Scan(&total); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.Ef(domain.KindNotFound, "flight tariff %d not found", leg.FlightTariffID)
			}
			return err
		}
		var taken int
		if err := tx.QueryRow(ctx, takenSeatsQuery, leg.FlightTariffID, now).Scan(&taken); err != nil {
			return err
		}
		if taken+leg.SeatsNumber > total {
			return domain.ErrOutOfInventory
		}
	}

	b.Status = domain.BookingStatusDraft
	if err := tx.QueryRow(ctx, `INSERT INTO bookings (public_id, access_token, status, user_id, buyer_name, buyer_email, buyer_phone, currency, fare_total, discount_total, fee_total, final_total, quote_snapshot, adults, children, infants, infants_seat)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at, updated_at`,
		b.PublicID, b.AccessToken, b.Status, b.UserID, b.BuyerName, b.BuyerEmail, b.BuyerPhone, b.Currency,
		b.FareTotal, b.DiscountTotal, b.FeeTotal, b.FinalTotal, b.QuoteSnapshot,
		b.Counts.Adults, b.Counts.Children, b.Counts.Infants, b.Counts.InfantsSeat).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return err
	}

	for _, leg := range legs {
		if _, err := tx.Exec(ctx, `INSERT INTO booking_flights (booking_id, flight_tariff_id, flight_id, tariff_id, seats_number, direction)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			b.ID, leg.FlightTariffID, leg.FlightID, leg.TariffID, leg.SeatsNumber, leg.Direction); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO booking_holds (booking_id, expires_at) VALUES ($1, $2)`, b.ID, holdExpires); err != nil {
		return err
	}

	if err := appendStatusLog(ctx, tx, b.ID, domain.BookingStatusDraft); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func appendStatusLog(ctx context.Context, tx pgx.Tx, bookingID int64, status domain.BookingStatus) error {
	_, err := tx.Exec(ctx, `INSERT INTO booking_status_log (booking_id, seq, status, at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, now() FROM booking_status_log WHERE booking_id = $1`,
		bookingID, status)
	if err != nil {
		return domain.Wrap(domain.KindFatal, "status log append failed", err)
	}
	return nil
}

func (r *PGBookingRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE public_id=$1`, publicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %s not found", publicID)
	}
	return b, err
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %d not found", id)
	}
	return b, err
}

func (r *PGBookingRepository) GetFlights(ctx context.Context, bookingID int64) ([]domain.BookingFlight, error) {
	rows, err := r.db.Query(ctx, `SELECT id, booking_id, flight_tariff_id, flight_id, tariff_id, seats_number, direction FROM booking_flights WHERE booking_id=$1 ORDER BY direction`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flights := make([]domain.BookingFlight, 0, 2)
	for rows.Next() {
		var bf domain.BookingFlight
		if err := rows.Scan(&bf.ID, &bf.BookingID, &bf.FlightTariffID, &bf.FlightID, &bf.TariffID, &bf.SeatsNumber, &bf.Direction); err != nil {
			return nil, err
		}
		flights = append(flights, bf)
	}
	return flights, rows.Err()
}

func (r *PGBookingRepository) GetHold(ctx context.Context, bookingID int64) (*domain.Hold, error) {
	var h domain.Hold
	err := r.db.QueryRow(ctx, `SELECT booking_id, expires_at, created_at, updated_at FROM booking_holds WHERE booking_id=$1`, bookingID).
		Scan(&h.BookingID, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %d has no hold", bookingID)
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *PGBookingRepository) StatusHistory(ctx context.Context, bookingID int64) ([]domain.StatusLogEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT booking_id, seq, status, at FROM booking_status_log WHERE booking_id=$1 ORDER BY seq`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StatusLogEntry, 0)
	for rows.Next() {
		var e domain.StatusLogEntry
		if err := rows.Scan(&e.BookingID, &e.Seq, &e.Status, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PGBookingRepository) UpdateStatus(ctx context.Context, bookingID int64, to domain.BookingStatus) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, to) {
		return nil, domain.Ef(domain.KindConflict, "illegal transition %s -> %s", b.Status, to)
	}
	if err := setStatus(ctx, tx, b, to); err != nil {
		return nil, err
	}
	return b, tx.Commit(ctx)
}

func lockBooking(ctx context.Context, tx pgx.Tx, bookingID int64) (*domain.Booking, error) {
	b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "booking %d not found", bookingID)
	}
	return b, err
}

func setStatus(ctx context.Context, tx pgx.Tx, b *domain.Booking, to domain.BookingStatus) error {
	if err := tx.QueryRow(ctx, `UPDATE bookings SET status=$1, updated_at=now() WHERE id=$2 RETURNING updated_at`, to, b.ID).Scan(&b.UpdatedAt); err != nil {
		return err
	}
	b.Status = to
	return appendStatusLog(ctx, tx, b.ID, to)
}

func (r *PGBookingRepository) SetHold(ctx context.Context, bookingID int64, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO booking_holds (booking_id, expires_at) VALUES ($1, $2)
		ON CONFLICT (booking_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, updated_at = now()`,
		bookingID, expiresAt)
	return err
}

func (r *PGBookingRepository) DropHold(ctx context.Context, bookingID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM booking_holds WHERE booking_id=$1`, bookingID)
	return err
}

func (r *PGBookingRepository) AvailableSeats(ctx context.Context, flightTariffID int64) (*domain.SeatAvailability, error) {
	var total int
	err := r.db.QueryRow(ctx, `SELECT total_seats FROM flight_tariffs WHERE id=$1`, flightTariffID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "flight tariff %d not found", flightTariffID)
	}
	if err != nil {
		return nil, err
	}

	var taken int
	if err := r.db.QueryRow(ctx, takenSeatsQuery, flightTariffID, time.Now().UTC()).Scan(&taken); err != nil {
		return nil, err
	}

	return &domain.SeatAvailability{
		FlightTariffID: flightTariffID,
		Total:          total,
		Taken:          taken,
		Available:      total - taken,
	}, nil
}

func (r *PGBookingRepository) ReplacePassengers(ctx context.Context, bookingID int64, passengers []PassengerAssignment) ([]domain.BookingPassenger, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM booking_passengers WHERE booking_id=$1`, bookingID); err != nil {
		return nil, err
	}

	result := make([]domain.BookingPassenger, 0, len(passengers))
	for _, pa := range passengers {
		pid, err := resolvePassenger(ctx, tx, pa.Passenger)
		if err != nil {
			return nil, err
		}
		var bp domain.BookingPassenger
		bp.BookingID = bookingID
		bp.PassengerID = pid
		bp.Category = pa.Category
		if err := tx.QueryRow(ctx, `INSERT INTO booking_passengers (booking_id, passenger_id, category)
			VALUES ($1,$2,$3) RETURNING id`, bookingID, pid, pa.Category).Scan(&bp.ID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, domain.E(domain.KindConflict, "passenger listed twice on the booking")
			}
			return nil, err
		}
		result = append(result, bp)
	}

	return result, tx.Commit(ctx)
}

// resolvePassenger reuses an owned passenger row matching the identity
// tuple, otherwise inserts a new one.
func resolvePassenger(ctx context.Context, tx pgx.Tx, p domain.Passenger) (int64, error) {
	if p.UserID != nil {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM passengers
			WHERE user_id=$1 AND first_name=$2 AND last_name=$3 AND birth_date=$4 AND document_type=$5 AND document_number=$6`,
			p.UserID, p.FirstName, p.LastName, p.BirthDate, p.DocumentType, p.DocumentNumber).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
	}

	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO passengers (user_id, first_name, last_name, middle_name, gender, birth_date, document_type, document_number, document_expiry, citizenship)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		p.UserID, p.FirstName, p.LastName, p.MiddleName, p.Gender, p.BirthDate, p.DocumentType, p.DocumentNumber, p.DocumentExpiry, p.Citizenship).Scan(&id)
	return id, err
}

func (r *PGBookingRepository) ListPassengers(ctx context.Context, bookingID int64) ([]domain.BookingPassenger, error) {
	rows, err := r.db.Query(ctx, `SELECT id, booking_id, passenger_id, category, snapshot FROM booking_passengers WHERE booking_id=$1 ORDER BY id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	passengers := make([]domain.BookingPassenger, 0)
	for rows.Next() {
		var bp domain.BookingPassenger
		if err := rows.Scan(&bp.ID, &bp.BookingID, &bp.PassengerID, &bp.Category, &bp.Snapshot); err != nil {
			return nil, err
		}
		passengers = append(passengers, bp)
	}
	return passengers, rows.Err()
}

// AssignBookingNumber draws the next sequence value and encodes it. The
// unique index on booking_number backstops the encoding; a collision
// (which the bijective codec cannot produce for in-range values)
// surfaces as a retriable conflict.
func (r *PGBookingRepository) AssignBookingNumber(ctx context.Context, bookingID int64) (string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockBooking(ctx, tx, bookingID)
	if err != nil {
		return "", err
	}
	if b.BookingNumber != nil {
		// Already assigned; redelivered webhooks land here.
		return *b.BookingNumber, tx.Rollback(ctx)
	}
	if b.Status.Terminal() {
		// A late webhook must not stamp a number on a booking that can
		// never reach completed.
		return "", domain.Ef(domain.KindConflict, "booking %d is %s and cannot be numbered", bookingID, b.Status)
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('booking_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	number, err := domain.BookingNumberFromSeq(seq)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `UPDATE bookings SET booking_number=$1, updated_at=now() WHERE id=$2`, number, bookingID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", domain.Wrap(domain.KindTransient, "booking number collision", err)
		}
		return "", err
	}

	return number, tx.Commit(ctx)
}

// CompleteBooking performs the payment_confirmed -> completed leg of
// the lifecycle atomically: both status-log entries, the per-leg
// flight passengers with their issued tickets and the passenger
// snapshots land in one transaction. Safe to replay; a booking already
// completed reports AlreadyCompleted without touching any row.
func (r *PGBookingRepository) CompleteBooking(ctx context.Context, bookingID int64) (*CompletionResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookingStatusCompleted {
		return &CompletionResult{Booking: b, AlreadyCompleted: true}, tx.Rollback(ctx)
	}
	if !domain.CanTransition(b.Status, domain.BookingStatusPaymentConfirmed) {
		return nil, domain.Ef(domain.KindConflict, "illegal transition %s -> %s", b.Status, domain.BookingStatusPaymentConfirmed)
	}

	if err := setStatus(ctx, tx, b, domain.BookingStatusPaymentConfirmed); err != nil {
		return nil, err
	}
	if err := setStatus(ctx, tx, b, domain.BookingStatusCompleted); err != nil {
		return nil, err
	}

	// Freeze passenger payloads onto the booking passengers.
	rows, err := tx.Query(ctx, `SELECT bp.id, bp.passenger_id, p.user_id, p.first_name, p.last_name, p.middle_name, p.gender, p.birth_date, p.document_type, p.document_number, p.document_expiry, p.citizenship
		FROM booking_passengers bp JOIN passengers p ON p.id = bp.passenger_id
		WHERE bp.booking_id=$1 ORDER BY bp.id`, bookingID)
	if err != nil {
		return nil, err
	}
	type frozen struct {
		bpID int64
		data []byte
	}
	var snapshots []frozen
	var bpIDs []int64
	for rows.Next() {
		var bpID int64
		var p domain.Passenger
		if err := rows.Scan(&bpID, &p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.MiddleName, &p.Gender, &p.BirthDate, &p.DocumentType, &p.DocumentNumber, &p.DocumentExpiry, &p.Citizenship); err != nil {
			rows.Close()
			return nil, err
		}
		data, err := json.Marshal(p)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snapshots = append(snapshots, frozen{bpID: bpID, data: data})
		bpIDs = append(bpIDs, bpID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range snapshots {
		if _, err := tx.Exec(ctx, `UPDATE booking_passengers SET snapshot=$1 WHERE id=$2`, s.data, s.bpID); err != nil {
			return nil, err
		}
	}

	flights, err := bookingFlightIDs(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{Booking: b}
	for _, bpID := range bpIDs {
		for _, flightID := range flights {
			var bfp domain.BookingFlightPassenger
			bfp.BookingPassengerID = bpID
			bfp.FlightID = flightID
			bfp.Status = domain.TicketStatusCreated
			if err := tx.QueryRow(ctx, `INSERT INTO booking_flight_passengers (booking_passenger_id, flight_id, status)
				VALUES ($1,$2,$3) RETURNING id`, bpID, flightID, bfp.Status).Scan(&bfp.ID); err != nil {
				return nil, err
			}
			number, err := issueTicket(ctx, tx, bfp.ID)
			if err != nil {
				return nil, err
			}
			bfp.TicketNumber = &number
			bfp.Status = domain.TicketStatusTicketed
			result.FlightPassengers = append(result.FlightPassengers, bfp)
		}
	}

	return result, tx.Commit(ctx)
}

// issueTicket walks one flight passenger through
// created -> ticket_in_progress -> ticketed while the ticket row with
// its number is written, all inside the completion transaction.
func issueTicket(ctx context.Context, tx pgx.Tx, bfpID int64) (string, error) {
	if _, err := tx.Exec(ctx, `UPDATE booking_flight_passengers SET status=$1 WHERE id=$2`, domain.TicketStatusInProgress, bfpID); err != nil {
		return "", err
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('ticket_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	number := fmt.Sprintf("%013d", seq)

	if _, err := tx.Exec(ctx, `INSERT INTO tickets (booking_flight_passenger_id, ticket_number) VALUES ($1, $2)`, bfpID, number); err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `UPDATE booking_flight_passengers SET status=$1 WHERE id=$2`, domain.TicketStatusTicketed, bfpID); err != nil {
		return "", err
	}
	return number, nil
}

func bookingFlightIDs(ctx context.Context, tx pgx.Tx, bookingID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `SELECT flight_id FROM booking_flights WHERE booking_id=$1 ORDER BY direction`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGBookingRepository) ListFlightPassengers(ctx context.Context, bookingID int64) ([]domain.BookingFlightPassenger, error) {
	rows, err := r.db.Query(ctx, `SELECT bfp.id, bfp.booking_passenger_id, bfp.flight_id, bfp.status, t.ticket_number
		FROM booking_flight_passengers bfp
		JOIN booking_passengers bp ON bp.id = bfp.booking_passenger_id
		LEFT JOIN tickets t ON t.booking_flight_passenger_id = bfp.id
		WHERE bp.booking_id=$1 ORDER BY bfp.id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BookingFlightPassenger, 0)
	for rows.Next() {
		var bfp domain.BookingFlightPassenger
		if err := rows.Scan(&bfp.ID, &bfp.BookingPassengerID, &bfp.FlightID, &bfp.Status, &bfp.TicketNumber); err != nil {
			return nil, err
		}
		out = append(out, bfp)
	}
	return out, rows.Err()
}

func (r *PGBookingRepository) GetFlightPassenger(ctx context.Context, id int64) (*domain.BookingFlightPassenger, error) {
	var bfp domain.BookingFlightPassenger
	err := r.db.QueryRow(ctx, `SELECT bfp.id, bfp.booking_passenger_id, bfp.flight_id, bfp.status, t.ticket_number
		FROM booking_flight_passengers bfp
		LEFT JOIN tickets t ON t.booking_flight_passenger_id = bfp.id
		WHERE bfp.id=$1`, id).
		Scan(&bfp.ID, &bfp.BookingPassengerID, &bfp.FlightID, &bfp.Status, &bfp.TicketNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "flight passenger %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &bfp, nil
}

func (r *PGBookingRepository) UpdateTicketStatus(ctx context.Context, id int64, from, to domain.TicketStatus) error {
	cmd, err := r.db.Exec(ctx, `UPDATE booking_flight_passengers SET status=$1 WHERE id=$2 AND status=$3`, to, id, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.Ef(domain.KindConflict, "ticket %d is not in status %s", id, from)
	}
	return nil
}

// ExpireDueBookings transitions non-terminal bookings with lapsed
// holds. SKIP LOCKED lets a sweep step over a row a webhook handler is
// mutating; the next tick retries it.
func (r *PGBookingRepository) ExpireDueBookings(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status NOT IN ('completed', 'expired', 'cancelled')
		  AND id IN (SELECT booking_id FROM booking_holds WHERE expires_at < $1)
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return nil, err
	}
	var due []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expired := make([]domain.Booking, 0, len(due))
	for i := range due {
		b := &due[i]
		// Status re-checked under lock: completed is never overwritten.
		if !domain.CanTransition(b.Status, domain.BookingStatusExpired) {
			continue
		}
		if err := setStatus(ctx, tx, b, domain.BookingStatusExpired); err != nil {
			return nil, err
		}
		expired = append(expired, *b)
	}

	return expired, tx.Commit(ctx)
}

// PurgeStaleHolds deletes holds of terminal bookings past the
// retention window. The booking itself stays.
func (r *PGBookingRepository) PurgeStaleHolds(ctx context.Context, olderThan time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM booking_holds h USING bookings b
		WHERE h.booking_id = b.id
		  AND b.status IN ('completed', 'expired', 'cancelled')
		  AND h.expires_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
