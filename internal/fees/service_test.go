package fees

import (
	"context"
	"sync"
	"testing"
	"time"

	"hostel/internal/apperr"
	"hostel/internal/auth"
)

var admin = auth.Identity{ID: 1, Role: auth.RoleAdmin}

type fakeStore struct {
	mu       sync.Mutex
	students map[int64]bool
	fees     map[int64]*Fee
	nextID   int64
}

func newFakeStore(activeStudents ...int64) *fakeStore {
	f := &fakeStore{students: map[int64]bool{}, fees: map[int64]*Fee{}}
	for _, id := range activeStudents {
		f.students[id] = true
	}
	return f
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make(map[int64]*Fee, len(f.fees))
	for id, fee := range f.fees {
		cp := *fee
		snapshot[id] = &cp
	}
	if err := fn(&fakeTx{store: f}); err != nil {
		f.fees = snapshot
		return err
	}
	return nil
}

func (f *fakeStore) ActiveStudent(ctx context.Context, userID int64) (bool, error) {
	return f.students[userID], nil
}

func (f *fakeStore) InsertFee(ctx context.Context, fee Fee) (Fee, error) {
	f.nextID++
	fee.ID = f.nextID
	fee.CreatedAt = time.Now()
	cp := fee
	f.fees[fee.ID] = &cp
	return fee, nil
}

func (f *fakeStore) ListForUser(ctx context.Context, userID int64) ([]Fee, error) {
	var res []Fee
	for _, fee := range f.fees {
		if fee.UserID == userID {
			res = append(res, *fee)
		}
	}
	return res, nil
}

func (f *fakeStore) SweepOverdue(ctx context.Context, today string) (int64, error) {
	var moved int64
	for _, fee := range f.fees {
		if fee.Status == StatusPending && fee.DueDate < today {
			fee.Status = StatusOverdue
			moved++
		}
	}
	return moved, nil
}

func (f *fakeStore) RangeStats(ctx context.Context, from, to string) (Stats, error) {
	var st Stats
	for _, fee := range f.fees {
		if from != "" && fee.DueDate < from {
			continue
		}
		if to != "" && fee.DueDate >= to {
			continue
		}
		switch fee.Status {
		case StatusPending:
			st.Pending++
			st.Due += fee.Amount
		case StatusOverdue:
			st.Overdue++
			st.Due += fee.Amount
		case StatusPaid:
			st.Paid++
			st.Collected += fee.Amount
		}
	}
	return st, nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) FeeForUpdate(ctx context.Context, id int64) (*Fee, error) {
	fee, ok := t.store.fees[id]
	if !ok {
		return nil, nil
	}
	cp := *fee
	return &cp, nil
}

func (t *fakeTx) SetPaid(ctx context.Context, id int64, paidDate, receiptNo string) error {
	fee := t.store.fees[id]
	fee.Status = StatusPaid
	fee.PaidDate = &paidDate
	fee.ReceiptNo = &receiptNo
	return nil
}

func newTestLedger(store Store, today time.Time) *Ledger {
	l := NewLedger(store)
	l.now = func() time.Time { return today }
	return l
}

func TestCreate(t *testing.T) {
	store := newFakeStore(5)
	ledger := newTestLedger(store, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	fee, err := ledger.Create(context.Background(), admin, 5, 4500, TypeMonthly, "2026-03-10")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if fee.Status != StatusPending {
		t.Errorf("status = %q, want %q", fee.Status, StatusPending)
	}
}

func TestCreate_UnknownStudent(t *testing.T) {
	ledger := newTestLedger(newFakeStore(), time.Now())
	_, err := ledger.Create(context.Background(), admin, 5, 4500, TypeMonthly, "2026-03-10")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	ledger := newTestLedger(newFakeStore(5), time.Now())
	ctx := context.Background()

	if _, err := ledger.Create(ctx, admin, 5, 0, TypeMonthly, "2026-03-10"); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("zero amount: expected InvalidInput, got %v", err)
	}
	if _, err := ledger.Create(ctx, admin, 5, 100, "bribe", "2026-03-10"); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("bad type: expected InvalidInput, got %v", err)
	}
	if _, err := ledger.Create(ctx, admin, 5, 100, TypeMonthly, "soon"); !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("bad due date: expected InvalidInput, got %v", err)
	}
	student := auth.Identity{ID: 5, Role: auth.RoleStudent}
	if _, err := ledger.Create(ctx, student, 5, 100, TypeMonthly, "2026-03-10"); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("non-admin: expected Forbidden, got %v", err)
	}
}

func TestLifecycle_SweepThenPay(t *testing.T) {
	store := newFakeStore(5)
	today := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(store, today)
	ctx := context.Background()

	// Due yesterday, so the sweep must move it to overdue.
	fee, err := ledger.Create(ctx, admin, 5, 4500, TypeMonthly, "2026-03-01")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	moved, err := ledger.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("SweepOverdue failed: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}
	if got := store.fees[fee.ID].Status; got != StatusOverdue {
		t.Errorf("status = %q, want %q", got, StatusOverdue)
	}

	paid, err := ledger.MarkPaid(ctx, admin, fee.ID, "", "")
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Errorf("status = %q, want %q", paid.Status, StatusPaid)
	}
	if paid.PaidDate == nil || *paid.PaidDate != "2026-03-02" {
		t.Errorf("paid date = %v, want 2026-03-02", paid.PaidDate)
	}
	if paid.ReceiptNo == nil || *paid.ReceiptNo == "" {
		t.Error("receipt number not generated")
	}

	_, err = ledger.MarkPaid(ctx, admin, fee.ID, "", "")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second payment: expected Conflict, got %v", err)
	}
}

func TestSweepOverdue_Idempotent(t *testing.T) {
	store := newFakeStore(5)
	today := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(store, today)
	ctx := context.Background()

	if _, err := ledger.Create(ctx, admin, 5, 100, TypeMonthly, "2026-02-01"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ledger.Create(ctx, admin, 5, 100, TypeMonthly, "2026-04-01"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	paidFee, err := ledger.Create(ctx, admin, 5, 100, TypeSemester, "2026-02-15")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ledger.MarkPaid(ctx, admin, paidFee.ID, "2026-02-10", "R-1"); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}

	first, err := ledger.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if first != 1 {
		t.Errorf("first sweep moved %d, want 1 (paid and future fees must not move)", first)
	}

	second, err := ledger.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second != 0 {
		t.Errorf("second sweep moved %d, want 0", second)
	}
	if got := store.fees[paidFee.ID].Status; got != StatusPaid {
		t.Errorf("paid fee status = %q after sweep, want %q", got, StatusPaid)
	}
}

func TestMarkPaid_NotFound(t *testing.T) {
	ledger := newTestLedger(newFakeStore(5), time.Now())
	_, err := ledger.MarkPaid(context.Background(), admin, 99, "", "")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRangeStats(t *testing.T) {
	store := newFakeStore(5)
	today := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(store, today)
	ctx := context.Background()

	inRange, err := ledger.Create(ctx, admin, 5, 200, TypeMonthly, "2026-03-05")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := ledger.MarkPaid(ctx, admin, inRange.ID, "2026-03-06", ""); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if _, err := ledger.Create(ctx, admin, 5, 300, TypeMonthly, "2026-03-10"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Outside [2026-03-01, 2026-04-01): must not be counted.
	if _, err := ledger.Create(ctx, admin, 5, 999, TypeAnnual, "2026-04-10"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stats, err := ledger.RangeStats(ctx, admin, "2026-03-01", "2026-04-01")
	if err != nil {
		t.Fatalf("RangeStats failed: %v", err)
	}
	if stats.Paid != 1 || stats.Pending != 1 || stats.Overdue != 0 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.Collected != 200 || stats.Due != 300 {
		t.Errorf("sums = collected %v due %v, want 200 and 300", stats.Collected, stats.Due)
	}
}

func TestListForUser_OtherStudentForbidden(t *testing.T) {
	ledger := newTestLedger(newFakeStore(5, 6), time.Now())
	_, err := ledger.ListForUser(context.Background(), auth.Identity{ID: 6, Role: auth.RoleStudent}, 5)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}
