//go:build integration

package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// testPool connects to the database named by TEST_DATABASE_DSN and
// provisions the schema the repositories expect. The whole package is
// skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, stmt := range testSchema {
		if _, err := pool.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := pool.Exec(context.Background(), "TRUNCATE "+table+" RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS flight_tariffs (
		id bigserial PRIMARY KEY,
		total_seats int NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id bigserial PRIMARY KEY,
		public_id text NOT NULL UNIQUE,
		access_token text NOT NULL,
		booking_number text UNIQUE,
		status text NOT NULL,
		user_id bigint,
		buyer_name text NOT NULL DEFAULT '',
		buyer_email text NOT NULL DEFAULT '',
		buyer_phone text NOT NULL DEFAULT '',
		currency text NOT NULL DEFAULT 'RUB',
		fare_total numeric NOT NULL DEFAULT 0,
		discount_total numeric NOT NULL DEFAULT 0,
		fee_total numeric NOT NULL DEFAULT 0,
		final_total numeric NOT NULL DEFAULT 0,
		quote_snapshot bytea,
		adults int NOT NULL DEFAULT 0,
		children int NOT NULL DEFAULT 0,
		infants int NOT NULL DEFAULT 0,
		infants_seat int NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS booking_flights (
		id bigserial PRIMARY KEY,
		booking_id bigint NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		flight_tariff_id bigint NOT NULL,
		flight_id bigint NOT NULL,
		tariff_id bigint NOT NULL,
		seats_number int NOT NULL,
		direction int NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS booking_holds (
		booking_id bigint PRIMARY KEY REFERENCES bookings(id) ON DELETE CASCADE,
		expires_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS booking_status_log (
		booking_id bigint NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		seq int NOT NULL,
		status text NOT NULL,
		at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (booking_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS passengers (
		id bigserial PRIMARY KEY,
		user_id bigint,
		first_name text NOT NULL,
		last_name text NOT NULL,
		middle_name text,
		gender text,
		birth_date date NOT NULL,
		document_type text NOT NULL,
		document_number text NOT NULL,
		document_expiry date,
		citizenship text
	)`,
	`CREATE TABLE IF NOT EXISTS booking_passengers (
		id bigserial PRIMARY KEY,
		booking_id bigint NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		passenger_id bigint NOT NULL REFERENCES passengers(id),
		category text NOT NULL,
		snapshot bytea,
		UNIQUE (booking_id, passenger_id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_flight_passengers (
		id bigserial PRIMARY KEY,
		booking_passenger_id bigint NOT NULL REFERENCES booking_passengers(id) ON DELETE CASCADE,
		flight_id bigint NOT NULL,
		status text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id bigserial PRIMARY KEY,
		booking_flight_passenger_id bigint NOT NULL REFERENCES booking_flight_passengers(id) ON DELETE CASCADE,
		ticket_number text NOT NULL UNIQUE,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE SEQUENCE IF NOT EXISTS booking_number_seq`,
	`CREATE SEQUENCE IF NOT EXISTS ticket_number_seq`,
	`CREATE TABLE IF NOT EXISTS consent_docs (
		id bigserial PRIMARY KEY,
		type text NOT NULL,
		version int NOT NULL,
		content text NOT NULL,
		hash text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		UNIQUE (type, version)
	)`,
	`CREATE TABLE IF NOT EXISTS consent_events (
		id bigserial PRIMARY KEY,
		doc_id bigint NOT NULL REFERENCES consent_docs(id),
		action text NOT NULL,
		user_id bigint,
		booking_id bigint,
		client_ip text NOT NULL DEFAULT '',
		user_agent text NOT NULL DEFAULT '',
		fingerprint text NOT NULL DEFAULT '',
		passenger_ids bigint[],
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
}
