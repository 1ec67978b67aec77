package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkorchagin/skyfare/internal/domain"
)

type CatalogRepository interface {
	ListFlights(ctx context.Context) ([]domain.Flight, error)
	GetFlight(ctx context.Context, id int64) (*domain.Flight, error)
	FindFlightTariff(ctx context.Context, flightID, tariffID int64) (*domain.FlightTariff, error)
	GetFlightTariff(ctx context.Context, id int64) (*domain.FlightTariff, error)
	GetTariff(ctx context.Context, id int64) (*domain.Tariff, error)
	ListFees(ctx context.Context, application domain.FeeApplication, term *domain.FeeTerm, tariffID *int64) ([]domain.Fee, error)
	ListDiscounts(ctx context.Context) ([]domain.Discount, error)
	AirportTimezone(ctx context.Context, airportID int64) (string, error)
	// InReadTx runs fn against a single repeatable-read snapshot so a
	// quote sees consistent catalogue state across all its lookups.
	InReadTx(ctx context.Context, fn func(ctx context.Context, r CatalogRepository) error) error
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, which lets the
// same repository run inside or outside a read transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGCatalogRepository struct {
	db   querier
	pool *pgxpool.Pool // nil when the repository is bound to a tx
}

func NewCatalogRepository(db *pgxpool.Pool) *PGCatalogRepository {
	return &PGCatalogRepository{db: db, pool: db}
}

func (r *PGCatalogRepository) InReadTx(ctx context.Context, fn func(ctx context.Context, cr CatalogRepository) error) error {
	if r.pool == nil {
		// Already inside a transaction.
		return fn(ctx, r)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Wrap(domain.KindTransient, "begin read tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PGCatalogRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGCatalogRepository) ListFlights(ctx context.Context) ([]domain.Flight, error) {
	rows, err := r.db.Query(ctx, `SELECT id, airline_id, number, from_airport_id, to_airport_id, departure, arrival, economy_capacity, business_capacity, created_at, updated_at FROM flights ORDER BY departure`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flights := make([]domain.Flight, 0)
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, *f)
	}
	return flights, rows.Err()
}

func (r *PGCatalogRepository) GetFlight(ctx context.Context, id int64) (*domain.Flight, error) {
	row := r.db.QueryRow(ctx, `SELECT id, airline_id, number, from_airport_id, to_airport_id, departure, arrival, economy_capacity, business_capacity, created_at, updated_at FROM flights WHERE id=$1`, id)
	f, err := scanFlight(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "flight %d not found", id)
	}
	return f, err
}

func scanFlight(row pgx.Row) (*domain.Flight, error) {
	var f domain.Flight
	var econCap, busCap *int
	if err := row.Scan(&f.ID, &f.AirlineID, &f.Number, &f.FromAirportID, &f.ToAirportID, &f.Departure, &f.Arrival, &econCap, &busCap, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if econCap != nil || busCap != nil {
		cap := domain.AircraftCapacity{}
		if econCap != nil {
			cap.Economy = *econCap
		}
		if busCap != nil {
			cap.Business = *busCap
		}
		f.Capacity = &cap
	}
	return &f, nil
}

func (r *PGCatalogRepository) FindFlightTariff(ctx context.Context, flightID, tariffID int64) (*domain.FlightTariff, error) {
	row := r.db.QueryRow(ctx, `SELECT id, flight_id, tariff_id, total_seats, created_at, updated_at FROM flight_tariffs WHERE flight_id=$1 AND tariff_id=$2`, flightID, tariffID)
	ft, err := scanFlightTariff(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "tariff %d is not offered on flight %d", tariffID, flightID)
	}
	return ft, err
}

func (r *PGCatalogRepository) GetFlightTariff(ctx context.Context, id int64) (*domain.FlightTariff, error) {
	row := r.db.QueryRow(ctx, `SELECT id, flight_id, tariff_id, total_seats, created_at, updated_at FROM flight_tariffs WHERE id=$1`, id)
	ft, err := scanFlightTariff(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Ef(domain.KindNotFound, "flight tariff %d not found", id)
	}
	return ft, err
}

func scanFlightTariff(row pgx.Row) (*domain.FlightTariff, error) {
	var ft domain.FlightTariff
	if err := row.Scan(&ft.ID, &ft.FlightID, &ft.TariffID, &ft.TotalSeats, &ft.CreatedAt, &ft.UpdatedAt); err != nil {
		return nil, err
	}
	return &ft, nil
}

func (r *PGCatalogRepository) GetTariff(ctx context.Context, id int64) (*domain.Tariff, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, class, rank, price, currency, refundable, baggage_kg, hand_luggage_kg, created_at, updated_at FROM tariffs WHERE id=$1`, id)
	var t domain.Tariff
	if err := row.Scan(&t.ID, &t.Name, &t.Class, &t.Rank, &t.Price, &t.Currency, &t.Refundable, &t.BaggageKg, &t.HandLuggageKg, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Ef(domain.KindNotFound, "tariff %d not found", id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *PGCatalogRepository) ListFees(ctx context.Context, application domain.FeeApplication, term *domain.FeeTerm, tariffID *int64) ([]domain.Fee, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, amount, currency, application, term, tariff_id FROM fees
		WHERE application = $1
		  AND ($2::text IS NULL OR term = $2)
		  AND ($3::bigint IS NULL OR tariff_id IS NULL OR tariff_id = $3)
		ORDER BY id`, application, term, tariffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fees := make([]domain.Fee, 0)
	for rows.Next() {
		var f domain.Fee
		if err := rows.Scan(&f.ID, &f.Name, &f.Amount, &f.Currency, &f.Application, &f.Term, &f.TariffID); err != nil {
			return nil, err
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

func (r *PGCatalogRepository) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	rows, err := r.db.Query(ctx, `SELECT id, type, name, percent FROM discounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0)
	for rows.Next() {
		var d domain.Discount
		if err := rows.Scan(&d.ID, &d.Type, &d.Name, &d.Percent); err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

func (r *PGCatalogRepository) AirportTimezone(ctx context.Context, airportID int64) (string, error) {
	var tz string
	err := r.db.QueryRow(ctx, `SELECT timezone FROM airports WHERE id=$1`, airportID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.Ef(domain.KindNotFound, "airport %d not found", airportID)
	}
	return tz, err
}

var _ CatalogRepository = (*PGCatalogRepository)(nil)
