package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

type migration struct {
	version string
	name    string
	up      []string
}

// migrations are applied in order and recorded in schema_migrations.
var migrations = []migration{
	{
		version: "20261001090000",
		name:    "create_companies_and_cleaners",
		up: []string{
			`CREATE TABLE IF NOT EXISTS companies (
				id                  UUID PRIMARY KEY,
				name                TEXT NOT NULL,
				package_type        TEXT NOT NULL,
				custom_platform_fee BIGINT NOT NULL DEFAULT 0,
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS cleaners (
				id                   UUID PRIMARY KEY,
				company_id           UUID NOT NULL REFERENCES companies(id),
				name                 TEXT NOT NULL DEFAULT '',
				status               TEXT NOT NULL DEFAULT 'off_duty',
				last_lat             DOUBLE PRECISION,
				last_lng             DOUBLE PRECISION,
				last_location_update TIMESTAMPTZ,
				created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cleaners_company ON cleaners (company_id)`,
			`CREATE INDEX IF NOT EXISTS idx_cleaners_on_duty_heartbeat
				ON cleaners (last_location_update) WHERE status = 'on_duty'`,
			`CREATE TABLE IF NOT EXISTS company_geofences (
				id         UUID PRIMARY KEY,
				company_id UUID NOT NULL REFERENCES companies(id),
				name       TEXT NOT NULL,
				polygon    JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_company_geofences_company ON company_geofences (company_id)`,
		},
	},
	{
		version: "20261001090100",
		name:    "create_cleaner_shifts",
		up: []string{
			`CREATE TABLE IF NOT EXISTS cleaner_shifts (
				id               UUID PRIMARY KEY,
				cleaner_id       UUID NOT NULL REFERENCES cleaners(id),
				company_id       UUID NOT NULL REFERENCES companies(id),
				shift_start      TIMESTAMPTZ NOT NULL,
				shift_end        TIMESTAMPTZ,
				duration_minutes INTEGER,
				start_lat        DOUBLE PRECISION,
				start_lng        DOUBLE PRECISION,
				end_lat          DOUBLE PRECISION,
				end_lng          DOUBLE PRECISION
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_cleaner_shifts_open
				ON cleaner_shifts (cleaner_id) WHERE shift_end IS NULL`,
			`CREATE INDEX IF NOT EXISTS idx_cleaner_shifts_history
				ON cleaner_shifts (cleaner_id, shift_start DESC)`,
		},
	},
	{
		version: "20261001090200",
		name:    "create_jobs_and_financials",
		up: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id               UUID PRIMARY KEY,
				company_id       UUID REFERENCES companies(id),
				cleaner_id       UUID REFERENCES cleaners(id),
				customer_name    TEXT NOT NULL,
				customer_phone   TEXT NOT NULL,
				customer_email   TEXT NOT NULL DEFAULT '',
				car_make         TEXT NOT NULL DEFAULT '',
				car_model        TEXT NOT NULL DEFAULT '',
				car_color        TEXT NOT NULL DEFAULT '',
				car_plate        TEXT NOT NULL DEFAULT '',
				lat              DOUBLE PRECISION NOT NULL,
				lng              DOUBLE PRECISION NOT NULL,
				address          TEXT NOT NULL DEFAULT '',
				base_amount      BIGINT NOT NULL,
				currency         TEXT NOT NULL,
				status           TEXT NOT NULL,
				charge_id        TEXT NOT NULL DEFAULT '',
				completion_proof TEXT,
				cancel_reason    TEXT,
				rating           INTEGER CHECK (rating BETWEEN 1 AND 5),
				review           TEXT,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				paid_at          TIMESTAMPTZ,
				assigned_at      TIMESTAMPTZ,
				started_at       TIMESTAMPTZ,
				completed_at     TIMESTAMPTZ,
				cancelled_at     TIMESTAMPTZ,
				refunded_at      TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_paid ON jobs (paid_at) WHERE status = 'paid'`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_company ON jobs (company_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS job_financials (
				job_id           UUID PRIMARY KEY REFERENCES jobs(id),
				company_id       UUID NOT NULL REFERENCES companies(id),
				cleaner_id       UUID REFERENCES cleaners(id),
				package_type     TEXT NOT NULL,
				base_amount      BIGINT NOT NULL,
				base_tax         BIGINT NOT NULL,
				tip_amount       BIGINT NOT NULL,
				tip_tax          BIGINT NOT NULL,
				platform_fee     BIGINT NOT NULL,
				platform_fee_tax BIGINT NOT NULL,
				processing_fee   BIGINT NOT NULL,
				gross_amount     BIGINT NOT NULL,
				net_payable      BIGINT NOT NULL,
				currency         TEXT NOT NULL,
				paid_at          TIMESTAMPTZ NOT NULL
			)`,
		},
	},
	{
		version: "20261001090300",
		name:    "create_ledger",
		up: []string{
			`CREATE TABLE IF NOT EXISTS transactions (
				id               UUID PRIMARY KEY,
				reference_number TEXT NOT NULL UNIQUE,
				company_id       UUID NOT NULL REFERENCES companies(id),
				job_id           UUID REFERENCES jobs(id),
				type             TEXT NOT NULL,
				direction        TEXT NOT NULL,
				amount           BIGINT NOT NULL,
				currency         TEXT NOT NULL,
				description      TEXT NOT NULL DEFAULT '',
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CHECK ((direction = 'credit' AND amount >= 0) OR (direction = 'debit' AND amount <= 0))
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_job_entry
				ON transactions (job_id, type) WHERE type IN ('customer_payment', 'refund')`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions (company_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS offline_jobs (
				id            UUID PRIMARY KEY,
				company_id    UUID NOT NULL REFERENCES companies(id),
				customer_name TEXT NOT NULL DEFAULT '',
				car_plate     TEXT NOT NULL DEFAULT '',
				service_price BIGINT NOT NULL,
				vat_amount    BIGINT NOT NULL,
				total         BIGINT NOT NULL,
				currency      TEXT NOT NULL,
				recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		},
	},
	{
		version: "20261001090400",
		name:    "create_complaints",
		up: []string{
			`CREATE TABLE IF NOT EXISTS complaints (
				id               UUID PRIMARY KEY,
				reference_number TEXT NOT NULL UNIQUE,
				job_id           UUID NOT NULL REFERENCES jobs(id),
				company_id       UUID NOT NULL REFERENCES companies(id),
				type             TEXT NOT NULL,
				status           TEXT NOT NULL,
				customer_name    TEXT NOT NULL DEFAULT '',
				customer_phone   TEXT NOT NULL DEFAULT '',
				customer_email   TEXT NOT NULL DEFAULT '',
				description      TEXT NOT NULL DEFAULT '',
				resolution       TEXT,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				resolved_at      TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_complaints_company ON complaints (company_id, status)`,
		},
	},
}

// Migrate applies pending schema migrations, each in its own transaction.
func Migrate(ctx context.Context, db *pgxpool.Pool, logger logrus.FieldLogger) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
		}
	}
	logger.WithField("count", len(migrations)).Info("database schema is up to date")
	return nil
}

func applyMigration(ctx context.Context, db *pgxpool.Pool, m migration) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		var applied bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&applied); err != nil {
			return err
		}
		if applied {
			return nil
		}
		for _, stmt := range m.up {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
		return err
	})
}
