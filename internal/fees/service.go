package fees

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hostel/internal/apperr"
	"hostel/internal/auth"
)

// Fee statuses. Paid is terminal.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusOverdue = "overdue"
)

// Fee types billed by the hostel.
const (
	TypeMonthly  = "monthly"
	TypeSemester = "semester"
	TypeAnnual   = "annual"
	TypeLateFee  = "late_fee"
)

const dayFormat = "2006-01-02"

// Fee is a billable obligation for one student.
type Fee struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    float64   `json:"amount"`
	FeeType   string    `json:"fee_type"`
	DueDate   string    `json:"due_date"`
	Status    string    `json:"status"`
	PaidDate  *string   `json:"paid_date,omitempty"`
	ReceiptNo *string   `json:"receipt_no,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates fees over a due-date range.
type Stats struct {
	Pending   int     `json:"pending"`
	Paid      int     `json:"paid"`
	Overdue   int     `json:"overdue"`
	Collected float64 `json:"collected"`
	Due       float64 `json:"due"`
}

// Tx is the transactional slice of the store used by MarkPaid, so the
// already-paid check and the write cannot interleave with another payment.
type Tx interface {
	FeeForUpdate(ctx context.Context, id int64) (*Fee, error)
	SetPaid(ctx context.Context, id int64, paidDate, receiptNo string) error
}

// Store is the persistence contract for the ledger.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ActiveStudent(ctx context.Context, userID int64) (bool, error)
	InsertFee(ctx context.Context, fee Fee) (Fee, error)
	ListForUser(ctx context.Context, userID int64) ([]Fee, error)
	SweepOverdue(ctx context.Context, today string) (int64, error)
	RangeStats(ctx context.Context, from, to string) (Stats, error)
}

// Ledger manages the fee lifecycle: pending, then paid or overdue.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates the fee ledger.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func validType(t string) bool {
	switch t {
	case TypeMonthly, TypeSemester, TypeAnnual, TypeLateFee:
		return true
	}
	return false
}

// Create bills a fee to an active student. Admin only.
func (l *Ledger) Create(ctx context.Context, who auth.Identity, userID int64, amount float64, feeType, dueDate string) (Fee, error) {
	if !who.IsAdmin() {
		return Fee{}, apperr.Forbidden("admin only")
	}
	if amount <= 0 {
		return Fee{}, apperr.Invalid("amount must be positive")
	}
	if !validType(feeType) {
		return Fee{}, apperr.Invalid("invalid fee type %q", feeType)
	}
	if _, err := time.Parse(dayFormat, dueDate); err != nil {
		return Fee{}, apperr.Invalid("invalid due date %q", dueDate)
	}
	active, err := l.store.ActiveStudent(ctx, userID)
	if err != nil {
		return Fee{}, err
	}
	if !active {
		return Fee{}, apperr.NotFound("student %d not found", userID)
	}
	return l.store.InsertFee(ctx, Fee{
		UserID:  userID,
		Amount:  amount,
		FeeType: feeType,
		DueDate: dueDate,
		Status:  StatusPending,
	})
}

// MarkPaid settles a fee. Paid is terminal: paying twice is a Conflict.
// paidDate defaults to today and receiptNo to a generated number.
func (l *Ledger) MarkPaid(ctx context.Context, who auth.Identity, feeID int64, paidDate, receiptNo string) (Fee, error) {
	if !who.IsAdmin() {
		return Fee{}, apperr.Forbidden("admin only")
	}
	if paidDate == "" {
		paidDate = l.now().Format(dayFormat)
	} else if _, err := time.Parse(dayFormat, paidDate); err != nil {
		return Fee{}, apperr.Invalid("invalid paid date %q", paidDate)
	}
	if receiptNo == "" {
		receiptNo = uuid.NewString()
	}

	var out Fee
	err := l.store.InTx(ctx, func(tx Tx) error {
		fee, err := tx.FeeForUpdate(ctx, feeID)
		if err != nil {
			return err
		}
		if fee == nil {
			return apperr.NotFound("fee %d not found", feeID)
		}
		if fee.Status == StatusPaid {
			return apperr.Conflict("fee %d already paid", feeID)
		}
		if err := tx.SetPaid(ctx, feeID, paidDate, receiptNo); err != nil {
			return err
		}
		out = *fee
		out.Status = StatusPaid
		out.PaidDate = &paidDate
		out.ReceiptNo = &receiptNo
		return nil
	})
	if err != nil {
		return Fee{}, err
	}
	return out, nil
}

// SweepOverdue transitions every pending fee past its due date to overdue and
// returns how many rows moved. Idempotent: a second run is a no-op.
func (l *Ledger) SweepOverdue(ctx context.Context) (int64, error) {
	return l.store.SweepOverdue(ctx, l.now().Format(dayFormat))
}

// ListForUser returns a student's fees. Students may only read their own.
func (l *Ledger) ListForUser(ctx context.Context, who auth.Identity, userID int64) ([]Fee, error) {
	if !who.IsAdmin() && who.ID != userID {
		return nil, apperr.Forbidden("cannot read another student's fees")
	}
	return l.store.ListForUser(ctx, userID)
}

// RangeStats aggregates fee counts and amounts over a due-date range
// [from, to). Admin only.
func (l *Ledger) RangeStats(ctx context.Context, who auth.Identity, from, to string) (Stats, error) {
	if !who.IsAdmin() {
		return Stats{}, apperr.Forbidden("admin only")
	}
	for _, d := range []string{from, to} {
		if d != "" {
			if _, err := time.Parse(dayFormat, d); err != nil {
				return Stats{}, apperr.Invalid("invalid date %q", d)
			}
		}
	}
	return l.store.RangeStats(ctx, from, to)
}
