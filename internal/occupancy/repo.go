package occupancy

import (
	"context"
	"database/sql"
	"errors"

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

// CreateRoom inserts a room, translating a duplicate room number into Conflict.
func (r *Repository) CreateRoom(ctx context.Context, room Room) (Room, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rooms (room_number, capacity, room_type, floor, occupied_count, is_active)
		VALUES ($1, $2, $3, $4, 0, TRUE)
		RETURNING id, created_at
	`, room.RoomNumber, room.Capacity, room.Type, room.Floor)
	if err := row.Scan(&room.ID, &room.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Room{}, apperr.Conflict("room number %s already exists", room.RoomNumber)
		}
		return Room{}, err
	}
	room.OccupiedCount = 0
	room.IsActive = true
	return room, nil
}

const roomCols = `id, room_number, capacity, room_type, floor, occupied_count, is_active, created_at`

func scanRoom(row interface{ Scan(...any) error }) (*Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.RoomNumber, &room.Capacity, &room.Type, &room.Floor, &room.OccupiedCount, &room.IsActive, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// GetRoom returns a room by id, nil when absent.
func (r *Repository) GetRoom(ctx context.Context, id int64) (*Room, error) {
	return scanRoom(r.db.QueryRowContext(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, id))
}

// ListRooms returns all rooms ordered by room number.
func (r *Repository) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+roomCols+` FROM rooms ORDER BY room_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *room)
	}
	return res, rows.Err()
}

// pgTx provides the row-locked operations inside one transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) RoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	return scanRoom(t.tx.QueryRowContext(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) OccupantForUpdate(ctx context.Context, id int64) (*Occupant, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT id, room_id, is_active FROM users WHERE id = $1 FOR UPDATE`, id)
	var occ Occupant
	if err := row.Scan(&occ.ID, &occ.RoomID, &occ.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &occ, nil
}

func (t *pgTx) SetOccupantRoom(ctx context.Context, userID int64, roomID *int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET room_id = $2 WHERE id = $1`, userID, roomID)
	return err
}

func (t *pgTx) AddOccupied(ctx context.Context, roomID int64, delta int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE rooms SET occupied_count = GREATEST(occupied_count + $2, 0) WHERE id = $1
	`, roomID, delta)
	return err
}

func (t *pgTx) SetRoomCapacity(ctx context.Context, roomID int64, capacity int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE rooms SET capacity = $2 WHERE id = $1`, roomID, capacity)
	return err
}

func (t *pgTx) DeleteRoom(ctx context.Context, roomID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	return err
}

func (t *pgTx) DeleteOccupant(ctx context.Context, userID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

func (t *pgTx) SetOccupantActive(ctx context.Context, userID int64, active bool) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, userID, active)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
