package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"hostel/internal/apperr"
	"hostel/internal/store"
)

// Repository implements Store over Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn within a database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

const recordCols = `id, user_id, to_char(day, 'YYYY-MM-DD'), status, check_in, check_out, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Day, &rec.Status, &rec.CheckIn, &rec.CheckOut, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns a user's records, newest first. from/to are optional
// YYYY-MM-DD bounds forming a half-open range.
func (r *Repository) ListRecords(ctx context.Context, userID int64, from, to string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + recordCols + ` FROM attendance_records WHERE user_id = $1`
	args := []any{userID}
	if from != "" {
		args = append(args, from)
		query += ` AND day >= $2`
	}
	if to != "" {
		args = append(args, to)
		query += ` AND day < $` + itoa(len(args))
	}
	args = append(args, limit, offset)
	query += ` ORDER BY day DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// CountByStatus aggregates a user's records per status over [from, to).
func (r *Repository) CountByStatus(ctx context.Context, userID int64, from, to string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM attendance_records WHERE user_id = $1`
	args := []any{userID}
	if from != "" {
		args = append(args, from)
		query += ` AND day >= $2`
	}
	if to != "" {
		args = append(args, to)
		query += ` AND day < $` + itoa(len(args))
	}
	query += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) UserActive(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := t.tx.QueryRowContext(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (t *pgTx) RecordForDay(ctx context.Context, userID int64, day string) (*Record, error) {
	return scanRecord(t.tx.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records WHERE user_id = $1 AND day = $2
	`, userID, day))
}

// InsertRecord writes a record; the unique (user_id, day) key turns a racing
// duplicate into a Conflict instead of a second row.
func (t *pgTx) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records (user_id, day, status, check_in, check_out)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, rec.UserID, rec.Day, rec.Status, rec.CheckIn, rec.CheckOut)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, apperr.Conflict("attendance already marked for %s", rec.Day)
		}
		return Record{}, err
	}
	return rec, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
