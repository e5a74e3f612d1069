package students

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"hostel/internal/apperr"
)

// Repository implements Store over Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentCols = `id, name, email, password_hash, role, room_id, batch, phone, photo_url, is_active, created_at`

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.Email, &st.PasswordHash, &st.Role, &st.RoomID, &st.Batch, &st.Phone, &st.PhotoURL, &st.IsActive, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// Insert writes a new account, translating a duplicate email into Conflict.
func (r *Repository) Insert(ctx context.Context, st Student) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, role, batch, phone, photo_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id, created_at
	`, st.Name, st.Email, st.PasswordHash, st.Role, st.Batch, st.Phone, st.PhotoURL)
	if err := row.Scan(&st.ID, &st.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Student{}, apperr.Conflict("email %s already registered", st.Email)
		}
		return Student{}, err
	}
	return st, nil
}

// GetByID returns a student by id, nil when absent.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentCols+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a student by email, nil when absent.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Student, error) {
	return scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentCols+` FROM users WHERE email = $1`, email))
}

// List returns all accounts ordered by name.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentCols+` FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *st)
	}
	return res, rows.Err()
}

// UpdateProfile edits the non-room profile fields.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, name, batch, phone, photoURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, batch = $3, phone = $4, photo_url = $5 WHERE id = $1
	`, id, name, batch, phone, photoURL)
	return err
}
