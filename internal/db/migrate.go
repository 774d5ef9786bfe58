package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// statements are idempotent so the server can bootstrap its own schema on
// startup. The partial unique index is the ledger-level backstop for the
// one-appointment-per-slot invariant: it only covers rows that are not
// cancelled, so a released slot can be booked again.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		phone         TEXT,
		address       JSONB,
		dob           TEXT,
		gender        TEXT,
		image_url     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS providers (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		specialty     TEXT NOT NULL,
		degree        TEXT,
		experience    TEXT,
		about         TEXT,
		fee           BIGINT NOT NULL CHECK (fee >= 0),
		address       JSONB,
		image_url     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id                UUID PRIMARY KEY,
		patient_id        UUID NOT NULL REFERENCES patients(id),
		provider_id       UUID NOT NULL REFERENCES providers(id),
		slot_date         TEXT NOT NULL,
		slot_time         TEXT NOT NULL,
		patient_snapshot  JSONB NOT NULL,
		provider_snapshot JSONB NOT NULL,
		amount            BIGINT NOT NULL CHECK (amount >= 0),
		cancelled         BOOLEAN NOT NULL DEFAULT FALSE,
		completed         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (NOT (cancelled AND completed))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_slot_unique
		ON appointments (provider_id, slot_date, slot_time)
		WHERE NOT cancelled`,
	`CREATE INDEX IF NOT EXISTS appointments_patient_idx
		ON appointments (patient_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS appointments_provider_idx
		ON appointments (provider_id, created_at)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
