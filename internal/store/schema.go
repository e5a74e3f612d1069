package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the bootstrap schema. Statements are idempotent so the
// process can run it on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id             BIGSERIAL PRIMARY KEY,
		room_number    TEXT UNIQUE NOT NULL,
		capacity       INT NOT NULL CHECK (capacity BETWEEN 1 AND 10),
		room_type      TEXT NOT NULL DEFAULT 'double',
		floor          INT NOT NULL DEFAULT 0,
		occupied_count INT NOT NULL DEFAULT 0 CHECK (occupied_count >= 0),
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'student',
		room_id       BIGINT REFERENCES rooms(id),
		batch         TEXT NOT NULL DEFAULT '',
		phone         TEXT NOT NULL DEFAULT '',
		photo_url     TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		day        DATE NOT NULL,
		status     TEXT NOT NULL,
		check_in   TIMESTAMPTZ,
		check_out  TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, day)
	);

	CREATE TABLE IF NOT EXISTS fees (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount     NUMERIC(12,2) NOT NULL,
		fee_type   TEXT NOT NULL,
		due_date   DATE NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		paid_date  DATE,
		receipt_no TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_room       ON users(room_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_day   ON attendance_records(day);
	CREATE INDEX IF NOT EXISTS idx_fees_user        ON fees(user_id);
	CREATE INDEX IF NOT EXISTS idx_fees_status_due  ON fees(status, due_date);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
