package occupancy

import (
	"context"
	"sync"
	"testing"

	"hostel/internal/apperr"
	"hostel/internal/auth"
)

var admin = auth.Identity{ID: 1, Role: auth.RoleAdmin}

type fakeStore struct {
	mu        sync.Mutex
	rooms     map[int64]*Room
	occupants map[int64]*Occupant
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:     map[int64]*Room{},
		occupants: map[int64]*Occupant{},
	}
}

func (f *fakeStore) addRoom(id int64, number string, capacity, occupied int) {
	f.rooms[id] = &Room{ID: id, RoomNumber: number, Capacity: capacity, Type: TypeDouble, OccupiedCount: occupied, IsActive: true}
}

func (f *fakeStore) addStudent(id int64, roomID *int64) {
	f.occupants[id] = &Occupant{ID: id, RoomID: roomID, IsActive: true}
}

func (f *fakeStore) snapshot() (map[int64]*Room, map[int64]*Occupant) {
	rooms := make(map[int64]*Room, len(f.rooms))
	for id, r := range f.rooms {
		cp := *r
		rooms[id] = &cp
	}
	occs := make(map[int64]*Occupant, len(f.occupants))
	for id, o := range f.occupants {
		cp := *o
		if o.RoomID != nil {
			rid := *o.RoomID
			cp.RoomID = &rid
		}
		occs[id] = &cp
	}
	return rooms, occs
}

// InTx serializes units with a mutex and restores the snapshot on error, the
// same visible behavior as a rolled-back row-locking transaction.
func (f *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms, occs := f.snapshot()
	if err := fn(&fakeTx{store: f}); err != nil {
		f.rooms, f.occupants = rooms, occs
		return err
	}
	return nil
}

func (f *fakeStore) CreateRoom(ctx context.Context, room Room) (Room, error) {
	room.ID = int64(len(f.rooms) + 1)
	f.rooms[room.ID] = &room
	return room, nil
}

func (f *fakeStore) GetRoom(ctx context.Context, id int64) (*Room, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListRooms(ctx context.Context) ([]Room, error) {
	var res []Room
	for _, r := range f.rooms {
		res = append(res, *r)
	}
	return res, nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) RoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	r, ok := t.store.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (t *fakeTx) OccupantForUpdate(ctx context.Context, id int64) (*Occupant, error) {
	o, ok := t.store.occupants[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	if o.RoomID != nil {
		rid := *o.RoomID
		cp.RoomID = &rid
	}
	return &cp, nil
}

func (t *fakeTx) SetOccupantRoom(ctx context.Context, userID int64, roomID *int64) error {
	t.store.occupants[userID].RoomID = roomID
	return nil
}

func (t *fakeTx) AddOccupied(ctx context.Context, roomID int64, delta int) error {
	r := t.store.rooms[roomID]
	r.OccupiedCount += delta
	if r.OccupiedCount < 0 {
		r.OccupiedCount = 0
	}
	return nil
}

func (t *fakeTx) SetRoomCapacity(ctx context.Context, roomID int64, capacity int) error {
	t.store.rooms[roomID].Capacity = capacity
	return nil
}

func (t *fakeTx) DeleteRoom(ctx context.Context, roomID int64) error {
	delete(t.store.rooms, roomID)
	return nil
}

func (t *fakeTx) DeleteOccupant(ctx context.Context, userID int64) error {
	delete(t.store.occupants, userID)
	return nil
}

func (t *fakeTx) SetOccupantActive(ctx context.Context, userID int64, active bool) error {
	t.store.occupants[userID].IsActive = active
	return nil
}

func ptr(v int64) *int64 { return &v }

func TestAssign(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 0)
	store.addStudent(5, nil)
	svc := NewService(store)

	if err := svc.Assign(context.Background(), admin, 10, 5); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 1 {
		t.Errorf("occupied count = %d, want 1", got)
	}
	if store.occupants[5].RoomID == nil || *store.occupants[5].RoomID != 10 {
		t.Errorf("student room = %v, want 10", store.occupants[5].RoomID)
	}
}

func TestAssign_RoomFull(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 2)
	store.addStudent(5, nil)
	svc := NewService(store)

	err := svc.Assign(context.Background(), admin, 10, 5)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict for full room, got %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 2 {
		t.Errorf("occupied count changed to %d on failed assign", got)
	}
}

func TestAssign_AlreadyAssigned(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addRoom(11, "A-102", 2, 0)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	err := svc.Assign(context.Background(), admin, 11, 5)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict for double assignment, got %v", err)
	}
}

func TestAssign_NotFound(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 0)
	store.addStudent(5, nil)
	svc := NewService(store)

	if err := svc.Assign(context.Background(), admin, 99, 5); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing room: expected NotFound, got %v", err)
	}
	if err := svc.Assign(context.Background(), admin, 10, 99); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing student: expected NotFound, got %v", err)
	}

	store.occupants[5].IsActive = false
	if err := svc.Assign(context.Background(), admin, 10, 5); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("inactive student: expected NotFound, got %v", err)
	}
}

func TestAssign_NonAdmin(t *testing.T) {
	svc := NewService(newFakeStore())
	student := auth.Identity{ID: 5, Role: auth.RoleStudent}
	if err := svc.Assign(context.Background(), student, 10, 5); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAssign_ConcurrentLastSlot(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 1, 0)
	store.addStudent(5, nil)
	store.addStudent(6, nil)
	svc := NewService(store)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []int64{5, 6} {
		wg.Add(1)
		go func(studentID int64) {
			defer wg.Done()
			errs <- svc.Assign(context.Background(), admin, 10, studentID)
		}(id)
	}
	wg.Wait()
	close(errs)

	var ok, conflict int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Errorf("got %d successes and %d conflicts, want 1 and 1", ok, conflict)
	}
	if got := store.rooms[10].OccupiedCount; got != 1 {
		t.Errorf("occupied count = %d, want 1", got)
	}
}

func TestUnassign(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	if err := svc.Unassign(context.Background(), admin, 10, 5); err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 0 {
		t.Errorf("occupied count = %d, want 0", got)
	}
	if store.occupants[5].RoomID != nil {
		t.Errorf("student still assigned to %d", *store.occupants[5].RoomID)
	}
}

func TestUnassign_WrongRoom(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addRoom(11, "A-102", 2, 0)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	if err := svc.Unassign(context.Background(), admin, 11, 5); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestReassign_FullTargetLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addRoom(11, "A-102", 1, 1)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	err := svc.Reassign(context.Background(), admin, 5, 11)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if store.occupants[5].RoomID == nil || *store.occupants[5].RoomID != 10 {
		t.Errorf("student moved off room 10 on failed reassign")
	}
	if got := store.rooms[10].OccupiedCount; got != 1 {
		t.Errorf("old room occupied count = %d, want 1", got)
	}
	if got := store.rooms[11].OccupiedCount; got != 1 {
		t.Errorf("target room occupied count = %d, want 1", got)
	}
}

func TestReassign(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addRoom(11, "A-102", 2, 0)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	if err := svc.Reassign(context.Background(), admin, 5, 11); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 0 {
		t.Errorf("old room occupied count = %d, want 0", got)
	}
	if got := store.rooms[11].OccupiedCount; got != 1 {
		t.Errorf("new room occupied count = %d, want 1", got)
	}
	if store.occupants[5].RoomID == nil || *store.occupants[5].RoomID != 11 {
		t.Errorf("student room = %v, want 11", store.occupants[5].RoomID)
	}
}

func TestReassign_FromUnassigned(t *testing.T) {
	store := newFakeStore()
	store.addRoom(11, "A-102", 2, 0)
	store.addStudent(5, nil)
	svc := NewService(store)

	if err := svc.Reassign(context.Background(), admin, 5, 11); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}
	if got := store.rooms[11].OccupiedCount; got != 1 {
		t.Errorf("occupied count = %d, want 1", got)
	}
}

func TestDeleteRoom_WithOccupants(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	svc := NewService(store)

	if err := svc.DeleteRoom(context.Background(), admin, 10); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if _, ok := store.rooms[10]; !ok {
		t.Error("room deleted despite occupants")
	}
}

func TestDeleteRoom_Empty(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 0)
	svc := NewService(store)

	if err := svc.DeleteRoom(context.Background(), admin, 10); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	if _, ok := store.rooms[10]; ok {
		t.Error("room still present after delete")
	}
}

func TestUpdateCapacity_BelowOccupancy(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 4, 3)
	svc := NewService(store)

	if err := svc.UpdateCapacity(context.Background(), admin, 10, 2); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if err := svc.UpdateCapacity(context.Background(), admin, 10, 3); err != nil {
		t.Fatalf("UpdateCapacity failed: %v", err)
	}
	if got := store.rooms[10].Capacity; got != 3 {
		t.Errorf("capacity = %d, want 3", got)
	}
}

func TestUpdateCapacity_OutOfRange(t *testing.T) {
	svc := NewService(newFakeStore())
	for _, cap := range []int{0, 11} {
		if err := svc.UpdateCapacity(context.Background(), admin, 10, cap); !apperr.Is(err, apperr.KindInvalidInput) {
			t.Errorf("capacity %d: expected InvalidInput, got %v", cap, err)
		}
	}
}

func TestDeleteStudent_ReleasesRoom(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	if err := svc.DeleteStudent(context.Background(), admin, 5); err != nil {
		t.Fatalf("DeleteStudent failed: %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 0 {
		t.Errorf("occupied count = %d, want 0", got)
	}
	if _, ok := store.occupants[5]; ok {
		t.Error("student still present after delete")
	}
}

func TestDeactivateStudent_ReleasesRoom(t *testing.T) {
	store := newFakeStore()
	store.addRoom(10, "A-101", 2, 1)
	store.addStudent(5, ptr(10))
	svc := NewService(store)

	if err := svc.DeactivateStudent(context.Background(), admin, 5); err != nil {
		t.Fatalf("DeactivateStudent failed: %v", err)
	}
	if got := store.rooms[10].OccupiedCount; got != 0 {
		t.Errorf("occupied count = %d, want 0", got)
	}
	occ := store.occupants[5]
	if occ.IsActive {
		t.Error("student still active")
	}
	if occ.RoomID != nil {
		t.Error("student still assigned after deactivation")
	}
}

func TestCreateRoom_Validation(t *testing.T) {
	svc := NewService(newFakeStore())
	cases := []Room{
		{RoomNumber: "", Capacity: 2, Type: TypeDouble},
		{RoomNumber: "A-1", Capacity: 0, Type: TypeDouble},
		{RoomNumber: "A-1", Capacity: 11, Type: TypeDouble},
		{RoomNumber: "A-1", Capacity: 2, Type: "penthouse"},
	}
	for _, room := range cases {
		if _, err := svc.CreateRoom(context.Background(), admin, room); !apperr.Is(err, apperr.KindInvalidInput) {
			t.Errorf("room %+v: expected InvalidInput, got %v", room, err)
		}
	}
}
