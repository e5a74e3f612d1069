package occupancy

import (
	"context"
	"time"

	"hostel/internal/apperr"
	"hostel/internal/auth"
)

// Room types offered by the hostel.
const (
	TypeSingle = "single"
	TypeDouble = "double"
	TypeTriple = "triple"
	TypeQuad   = "quad"
)

// Room is a hostel room with its live occupancy counter.
type Room struct {
	ID            int64     `json:"id"`
	RoomNumber    string    `json:"room_number"`
	Capacity      int       `json:"capacity"`
	Type          string    `json:"type"`
	Floor         int       `json:"floor"`
	OccupiedCount int       `json:"occupied_count"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Occupant is the manager's view of a student row: just enough to move them
// between rooms.
type Occupant struct {
	ID       int64
	RoomID   *int64
	IsActive bool
}

// Tx is the transactional slice of the store the manager works through.
// Implementations must hold row locks on anything read "ForUpdate" until the
// unit commits, so the check-then-write sequences below stay serialized.
type Tx interface {
	RoomForUpdate(ctx context.Context, id int64) (*Room, error)
	OccupantForUpdate(ctx context.Context, id int64) (*Occupant, error)
	SetOccupantRoom(ctx context.Context, userID int64, roomID *int64) error
	AddOccupied(ctx context.Context, roomID int64, delta int) error
	SetRoomCapacity(ctx context.Context, roomID int64, capacity int) error
	DeleteRoom(ctx context.Context, roomID int64) error
	DeleteOccupant(ctx context.Context, userID int64) error
	SetOccupantActive(ctx context.Context, userID int64, active bool) error
}

// Store is the persistence contract for the occupancy manager.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	CreateRoom(ctx context.Context, room Room) (Room, error)
	GetRoom(ctx context.Context, id int64) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
}

// Service keeps room occupancy counters and student assignments mutually
// consistent. Every mutation runs as one transaction.
type Service struct {
	store Store
}

// NewService creates the occupancy manager.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func validType(t string) bool {
	switch t {
	case TypeSingle, TypeDouble, TypeTriple, TypeQuad:
		return true
	}
	return false
}

// CreateRoom registers a new room. Admin only.
func (s *Service) CreateRoom(ctx context.Context, who auth.Identity, room Room) (Room, error) {
	if !who.IsAdmin() {
		return Room{}, apperr.Forbidden("admin only")
	}
	if room.RoomNumber == "" {
		return Room{}, apperr.Invalid("room number required")
	}
	if room.Capacity < 1 || room.Capacity > 10 {
		return Room{}, apperr.Invalid("capacity must be between 1 and 10")
	}
	if !validType(room.Type) {
		return Room{}, apperr.Invalid("invalid room type %q", room.Type)
	}
	room.OccupiedCount = 0
	room.IsActive = true
	return s.store.CreateRoom(ctx, room)
}

// GetRoom returns a room by id.
func (s *Service) GetRoom(ctx context.Context, id int64) (Room, error) {
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	if room == nil {
		return Room{}, apperr.NotFound("room %d not found", id)
	}
	return *room, nil
}

// ListRooms returns all rooms.
func (s *Service) ListRooms(ctx context.Context) ([]Room, error) {
	return s.store.ListRooms(ctx)
}

// Assign puts a student into a room, incrementing the room's counter. Fails
// when the room is full or the student already lives somewhere.
func (s *Service) Assign(ctx context.Context, who auth.Identity, roomID, studentID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		room, err := tx.RoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil || !room.IsActive {
			return apperr.NotFound("room %d not found", roomID)
		}
		occ, err := tx.OccupantForUpdate(ctx, studentID)
		if err != nil {
			return err
		}
		if occ == nil || !occ.IsActive {
			return apperr.NotFound("student %d not found", studentID)
		}
		if occ.RoomID != nil {
			return apperr.Conflict("student %d already assigned to room %d", studentID, *occ.RoomID)
		}
		if room.OccupiedCount >= room.Capacity {
			return apperr.Conflict("room %s is full", room.RoomNumber)
		}
		if err := tx.SetOccupantRoom(ctx, studentID, &roomID); err != nil {
			return err
		}
		return tx.AddOccupied(ctx, roomID, 1)
	})
}

// Unassign removes a student from the given room, decrementing its counter.
func (s *Service) Unassign(ctx context.Context, who auth.Identity, roomID, studentID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		return s.unassignLocked(ctx, tx, roomID, studentID)
	})
}

func (s *Service) unassignLocked(ctx context.Context, tx Tx, roomID, studentID int64) error {
	room, err := tx.RoomForUpdate(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return apperr.NotFound("room %d not found", roomID)
	}
	occ, err := tx.OccupantForUpdate(ctx, studentID)
	if err != nil {
		return err
	}
	if occ == nil {
		return apperr.NotFound("student %d not found", studentID)
	}
	if occ.RoomID == nil || *occ.RoomID != roomID {
		return apperr.Conflict("student %d is not assigned to room %d", studentID, roomID)
	}
	if err := tx.SetOccupantRoom(ctx, studentID, nil); err != nil {
		return err
	}
	// AddOccupied floors at zero, so a drifted counter cannot go negative.
	return tx.AddOccupied(ctx, roomID, -1)
}

// Reassign moves a student to a new room as one atomic unit. If the new room
// is full the old assignment is left untouched.
func (s *Service) Reassign(ctx context.Context, who auth.Identity, studentID, newRoomID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		occ, err := tx.OccupantForUpdate(ctx, studentID)
		if err != nil {
			return err
		}
		if occ == nil || !occ.IsActive {
			return apperr.NotFound("student %d not found", studentID)
		}
		if occ.RoomID != nil && *occ.RoomID == newRoomID {
			return nil
		}

		// Lock rooms in ascending id order so crossing reassigns cannot deadlock.
		ids := []int64{newRoomID}
		if occ.RoomID != nil {
			ids = append(ids, *occ.RoomID)
			if ids[0] > ids[1] {
				ids[0], ids[1] = ids[1], ids[0]
			}
		}
		rooms := make(map[int64]*Room, len(ids))
		for _, id := range ids {
			room, err := tx.RoomForUpdate(ctx, id)
			if err != nil {
				return err
			}
			rooms[id] = room
		}

		newRoom := rooms[newRoomID]
		if newRoom == nil || !newRoom.IsActive {
			return apperr.NotFound("room %d not found", newRoomID)
		}
		if newRoom.OccupiedCount >= newRoom.Capacity {
			return apperr.Conflict("room %s is full", newRoom.RoomNumber)
		}

		if occ.RoomID != nil {
			oldRoom := rooms[*occ.RoomID]
			if oldRoom == nil {
				return apperr.NotFound("room %d not found", *occ.RoomID)
			}
			if err := tx.AddOccupied(ctx, oldRoom.ID, -1); err != nil {
				return err
			}
		}
		if err := tx.SetOccupantRoom(ctx, studentID, &newRoomID); err != nil {
			return err
		}
		return tx.AddOccupied(ctx, newRoomID, 1)
	})
}

// UpdateCapacity changes a room's capacity; it may never drop below the
// current occupancy.
func (s *Service) UpdateCapacity(ctx context.Context, who auth.Identity, roomID int64, capacity int) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	if capacity < 1 || capacity > 10 {
		return apperr.Invalid("capacity must be between 1 and 10")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		room, err := tx.RoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return apperr.NotFound("room %d not found", roomID)
		}
		if capacity < room.OccupiedCount {
			return apperr.Conflict("room %s has %d occupants, capacity cannot be %d", room.RoomNumber, room.OccupiedCount, capacity)
		}
		return tx.SetRoomCapacity(ctx, roomID, capacity)
	})
}

// DeleteRoom removes an empty room.
func (s *Service) DeleteRoom(ctx context.Context, who auth.Identity, roomID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		room, err := tx.RoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return apperr.NotFound("room %d not found", roomID)
		}
		if room.OccupiedCount > 0 {
			return apperr.Conflict("cannot delete room %s with occupants", room.RoomNumber)
		}
		return tx.DeleteRoom(ctx, roomID)
	})
}

// DeleteStudent removes a student row; if they hold a room the counter is
// decremented in the same transaction.
func (s *Service) DeleteStudent(ctx context.Context, who auth.Identity, studentID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		occ, err := tx.OccupantForUpdate(ctx, studentID)
		if err != nil {
			return err
		}
		if occ == nil {
			return apperr.NotFound("student %d not found", studentID)
		}
		if occ.RoomID != nil {
			if _, err := tx.RoomForUpdate(ctx, *occ.RoomID); err != nil {
				return err
			}
			if err := tx.AddOccupied(ctx, *occ.RoomID, -1); err != nil {
				return err
			}
		}
		return tx.DeleteOccupant(ctx, studentID)
	})
}

// DeactivateStudent soft-disables a student. Occupancy only counts active
// students, so any held room slot is released in the same transaction.
func (s *Service) DeactivateStudent(ctx context.Context, who auth.Identity, studentID int64) error {
	if !who.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		occ, err := tx.OccupantForUpdate(ctx, studentID)
		if err != nil {
			return err
		}
		if occ == nil {
			return apperr.NotFound("student %d not found", studentID)
		}
		if occ.RoomID != nil {
			if _, err := tx.RoomForUpdate(ctx, *occ.RoomID); err != nil {
				return err
			}
			if err := tx.AddOccupied(ctx, *occ.RoomID, -1); err != nil {
				return err
			}
			if err := tx.SetOccupantRoom(ctx, studentID, nil); err != nil {
				return err
			}
		}
		return tx.SetOccupantActive(ctx, studentID, false)
	})
}
