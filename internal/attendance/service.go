package attendance

import (
	"context"
	"math"
	"time"

	"hostel/internal/apperr"
	"hostel/internal/auth"
)

// Attendance statuses.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

const dayFormat = "2006-01-02"

// Record is one attendance entry. At most one exists per (user, day).
type Record struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Day       string     `json:"day"`
	Status    string     `json:"status"`
	CheckIn   *time.Time `json:"check_in,omitempty"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Stats summarizes a user's attendance over a range.
type Stats struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"percentage"`
}

// Tx is the transactional slice of the store the recorder needs. The
// existence check and the insert must share one transaction; the unique
// (user, day) key backs it up at the storage level.
type Tx interface {
	UserActive(ctx context.Context, userID int64) (bool, error)
	RecordForDay(ctx context.Context, userID int64, day string) (*Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
}

// Store is the persistence contract for the recorder.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ListRecords(ctx context.Context, userID int64, from, to string, limit, offset int) ([]Record, error)
	CountByStatus(ctx context.Context, userID int64, from, to string) (map[string]int, error)
}

// Recorder classifies and records one attendance event per user per day from
// scanned badge tokens.
type Recorder struct {
	store      Store
	signingKey string
	issuer     string
	cutoff     time.Duration // time-of-day after which a mark counts as late
	now        func() time.Time
}

// NewRecorder creates a recorder. cutoff is a clock time like "08:00:00".
func NewRecorder(store Store, signingKey, issuer, cutoff string) (*Recorder, error) {
	t, err := time.Parse("15:04:05", cutoff)
	if err != nil {
		return nil, apperr.Invalid("invalid late cutoff %q", cutoff)
	}
	offset := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	return &Recorder{
		store:      store,
		signingKey: signingKey,
		issuer:     issuer,
		cutoff:     offset,
		now:        time.Now,
	}, nil
}

func (r *Recorder) classify(at time.Time) string {
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	if at.Sub(midnight) > r.cutoff {
		return StatusLate
	}
	return StatusPresent
}

// MarkByToken records attendance for the student encoded in a badge token.
// Non-admin callers may only mark themselves.
func (r *Recorder) MarkByToken(ctx context.Context, who auth.Identity, token string) (Record, error) {
	claims, err := auth.ParseBadge(token, r.signingKey, r.issuer)
	if err != nil {
		return Record{}, apperr.Invalid("invalid badge token")
	}
	if !who.IsAdmin() && who.ID != claims.UserID {
		return Record{}, apperr.Forbidden("cannot mark attendance for another student")
	}

	at := r.now()
	rec := Record{
		UserID:  claims.UserID,
		Day:     at.Format(dayFormat),
		Status:  r.classify(at),
		CheckIn: &at,
	}
	if err := r.insert(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// MarkManual inserts a record with an explicit status, bypassing the
// time-of-day rule. Admin only.
func (r *Recorder) MarkManual(ctx context.Context, who auth.Identity, userID int64, day, status string, checkIn, checkOut *time.Time) (Record, error) {
	if !who.IsAdmin() {
		return Record{}, apperr.Forbidden("admin only")
	}
	if status != StatusPresent && status != StatusLate && status != StatusAbsent {
		return Record{}, apperr.Invalid("invalid status %q", status)
	}
	if _, err := time.Parse(dayFormat, day); err != nil {
		return Record{}, apperr.Invalid("invalid day %q", day)
	}
	rec := Record{UserID: userID, Day: day, Status: status, CheckIn: checkIn, CheckOut: checkOut}
	if err := r.insert(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Recorder) insert(ctx context.Context, rec *Record) error {
	return r.store.InTx(ctx, func(tx Tx) error {
		active, err := tx.UserActive(ctx, rec.UserID)
		if err != nil {
			return err
		}
		if !active {
			return apperr.NotFound("student %d not found", rec.UserID)
		}
		existing, err := tx.RecordForDay(ctx, rec.UserID, rec.Day)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("attendance already marked for %s", rec.Day)
		}
		inserted, err := tx.InsertRecord(ctx, *rec)
		if err != nil {
			return err
		}
		*rec = inserted
		return nil
	})
}

// List returns records for a user. Students may only read their own.
func (r *Recorder) List(ctx context.Context, who auth.Identity, userID int64, from, to string, limit, offset int) ([]Record, error) {
	if !who.IsAdmin() && who.ID != userID {
		return nil, apperr.Forbidden("cannot read another student's attendance")
	}
	return r.store.ListRecords(ctx, userID, from, to, limit, offset)
}

// UserStats computes attendance counts and a percentage over [from, to).
// Percentage counts late days as attended and is 0 when no records exist.
func (r *Recorder) UserStats(ctx context.Context, who auth.Identity, userID int64, from, to string) (Stats, error) {
	if !who.IsAdmin() && who.ID != userID {
		return Stats{}, apperr.Forbidden("cannot read another student's attendance")
	}
	counts, err := r.store.CountByStatus(ctx, userID, from, to)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Present: counts[StatusPresent],
		Late:    counts[StatusLate],
		Absent:  counts[StatusAbsent],
	}
	st.Total = st.Present + st.Late + st.Absent
	if st.Total > 0 {
		st.Percentage = math.Round(float64(st.Present+st.Late)/float64(st.Total)*100*100) / 100
	}
	return st, nil
}
