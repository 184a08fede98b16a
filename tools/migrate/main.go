package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	account_number TEXT NOT NULL UNIQUE,
	tariff_id TEXT NOT NULL DEFAULT '',
	balance NUMERIC(14,2) NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS meters (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	type TEXT NOT NULL,
	day_night_capable BOOLEAN NOT NULL DEFAULT FALSE,
	imperial_units BOOLEAN NOT NULL DEFAULT FALSE,
	current_reading DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_day DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_night DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_reading DOUBLE PRECISION NOT NULL DEFAULT 99999,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_meters_customer ON meters (customer_id)`,
	`CREATE TABLE IF NOT EXISTS readings (
	id TEXT PRIMARY KEY,
	meter_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	reading_date TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL DEFAULT 0,
	day_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	night_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	prev_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	prev_day DOUBLE PRECISION NOT NULL DEFAULT 0,
	prev_night DOUBLE PRECISION NOT NULL DEFAULT 0,
	consumption DOUBLE PRECISION NOT NULL DEFAULT 0,
	day_consumption DOUBLE PRECISION NOT NULL DEFAULT 0,
	night_consumption DOUBLE PRECISION NOT NULL DEFAULT 0,
	imperial_units BOOLEAN NOT NULL DEFAULT FALSE,
	billed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_meter_date ON readings (meter_id, reading_date)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_unbilled ON readings (meter_id) WHERE NOT billed`,
	`CREATE TABLE IF NOT EXISTS tariffs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	meter_type TEXT NOT NULL,
	kind TEXT NOT NULL,
	effective_from TIMESTAMPTZ NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	standing_charge_daily NUMERIC(14,2) NOT NULL DEFAULT 0,
	vat_rate NUMERIC(8,5) NOT NULL DEFAULT 0,
	rate_pence NUMERIC(12,5) NOT NULL DEFAULT 0,
	day_rate_pence NUMERIC(12,5) NOT NULL DEFAULT 0,
	night_rate_pence NUMERIC(12,5) NOT NULL DEFAULT 0,
	threshold_units NUMERIC(14,5) NOT NULL DEFAULT 0,
	tier_one_rate_pence NUMERIC(12,5) NOT NULL DEFAULT 0,
	tier_two_rate_pence NUMERIC(12,5) NOT NULL DEFAULT 0,
	correction_factor NUMERIC(10,6) NOT NULL DEFAULT 0,
	calorific_value NUMERIC(10,4) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE SEQUENCE IF NOT EXISTS invoice_numbers START 1`,
	`CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	customer_id TEXT NOT NULL,
	account_number TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end TIMESTAMPTZ NOT NULL,
	issue_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	tariff_snapshot JSONB NOT NULL,
	lines JSONB NOT NULL,
	meter_summaries JSONB NOT NULL,
	gas_conversion JSONB,
	unit_cost NUMERIC(14,2) NOT NULL DEFAULT 0,
	standing_charge NUMERIC(14,2) NOT NULL DEFAULT 0,
	subtotal NUMERIC(14,2) NOT NULL DEFAULT 0,
	vat_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
	total NUMERIC(14,2) NOT NULL DEFAULT 0,
	amount_paid NUMERIC(14,2) NOT NULL DEFAULT 0,
	balance_due NUMERIC(14,2) NOT NULL DEFAULT 0,
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	paid_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices (customer_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL DEFAULT '',
	customer_id TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	payload_digest TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource_type, resource_id)`,
}

func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection string")
	timeout := flag.Duration("timeout", 30*time.Second, "per-statement timeout")
	flag.Parse()

	if *dbURL == "" {
		*dbURL = os.Getenv("PG_DSN")
	}
	if *dbURL == "" {
		log.Fatal("migrate: -db or DATABASE_URL/PG_DSN is required")
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		log.Fatalf("migrate: db open error: %v", err)
	}
	defer db.Close()

	for i, stmt := range statements {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		_, err := db.ExecContext(ctx, stmt)
		cancel()
		if err != nil {
			log.Fatalf("migrate: statement %d failed: %v", i+1, err)
		}
	}
	log.Printf("migrate: applied %d statements", len(statements))
}
