package fees

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// ActiveStudent reports whether userID is an active student.
func (r *Repository) ActiveStudent(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := r.db.QueryRowContext(ctx, `
		SELECT is_active FROM users WHERE id = $1 AND role = 'student'
	`, userID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return active, err
}

const feeCols = `id, user_id, amount, fee_type, to_char(due_date, 'YYYY-MM-DD'), status,
	to_char(paid_date, 'YYYY-MM-DD'), receipt_no, created_at`

func scanFee(row interface{ Scan(...any) error }) (*Fee, error) {
	var fee Fee
	err := row.Scan(&fee.ID, &fee.UserID, &fee.Amount, &fee.FeeType, &fee.DueDate, &fee.Status, &fee.PaidDate, &fee.ReceiptNo, &fee.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &fee, nil
}

// InsertFee writes a new pending fee.
func (r *Repository) InsertFee(ctx context.Context, fee Fee) (Fee, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO fees (user_id, amount, fee_type, due_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, fee.UserID, fee.Amount, fee.FeeType, fee.DueDate, fee.Status)
	if err := row.Scan(&fee.ID, &fee.CreatedAt); err != nil {
		return Fee{}, fmt.Errorf("insert fee: %w", err)
	}
	return fee, nil
}

// ListForUser returns a student's fees, soonest due first.
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]Fee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+feeCols+` FROM fees WHERE user_id = $1 ORDER BY due_date
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Fee
	for rows.Next() {
		fee, err := scanFee(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *fee)
	}
	return res, rows.Err()
}

// SweepOverdue moves pending fees past their due date to overdue. One
// statement, so re-running it changes nothing.
func (r *Repository) SweepOverdue(ctx context.Context, today string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fees SET status = 'overdue'
		WHERE status = 'pending' AND due_date < $1
	`, today)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RangeStats aggregates counts and sums over due_date in [from, to).
func (r *Repository) RangeStats(ctx context.Context, from, to string) (Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'paid'),
			COUNT(*) FILTER (WHERE status = 'overdue'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'paid'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status <> 'paid'), 0)
		FROM fees WHERE TRUE`
	args := []any{}
	if from != "" {
		args = append(args, from)
		query += fmt.Sprintf(" AND due_date >= $%d", len(args))
	}
	if to != "" {
		args = append(args, to)
		query += fmt.Sprintf(" AND due_date < $%d", len(args))
	}
	var st Stats
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&st.Pending, &st.Paid, &st.Overdue, &st.Collected, &st.Due)
	return st, err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FeeForUpdate(ctx context.Context, id int64) (*Fee, error) {
	return scanFee(t.tx.QueryRowContext(ctx, `SELECT `+feeCols+` FROM fees WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetPaid(ctx context.Context, id int64, paidDate, receiptNo string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE fees SET status = 'paid', paid_date = $2, receipt_no = $3 WHERE id = $1
	`, id, paidDate, receiptNo)
	return err
}
