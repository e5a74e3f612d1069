package students

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hostel/internal/apperr"
	"hostel/internal/auth"
	"hostel/internal/occupancy"
)

// Student is a hostel resident (or an admin account).
type Student struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	RoomID       *int64    `json:"room_id,omitempty"`
	Batch        string    `json:"batch,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence contract for student records.
type Store interface {
	Insert(ctx context.Context, st Student) (Student, error)
	GetByID(ctx context.Context, id int64) (*Student, error)
	GetByEmail(ctx context.Context, email string) (*Student, error)
	List(ctx context.Context) ([]Student, error)
	UpdateProfile(ctx context.Context, id int64, name, batch, phone, photoURL string) error
}

// Service owns student records. Room moves and removal go through the
// occupancy manager so counters stay consistent.
type Service struct {
	store Store
	occ   *occupancy.Service
}

// NewService creates the student service.
func NewService(store Store, occ *occupancy.Service) *Service {
	return &Service{store: store, occ: occ}
}

// Register creates a student account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, name, email, password, batch, phone, photoURL string) (Student, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return Student{}, apperr.Invalid("name and email required")
	}
	if !strings.Contains(email, "@") {
		return Student{}, apperr.Invalid("invalid email %q", email)
	}
	if len(password) < 6 {
		return Student{}, apperr.Invalid("password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Student{}, err
	}
	return s.store.Insert(ctx, Student{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         auth.RoleStudent,
		Batch:        batch,
		Phone:        phone,
		PhotoURL:     photoURL,
		IsActive:     true,
	})
}

// Authenticate checks credentials. Failures do not say whether the account
// exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Student, error) {
	st, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return Student{}, err
	}
	if st == nil || !st.IsActive {
		return Student{}, apperr.Forbidden("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) != nil {
		return Student{}, apperr.Forbidden("invalid credentials")
	}
	return *st, nil
}

// Get returns a student. Students may only read themselves; a student asking
// for someone else gets Forbidden whether or not the target exists.
func (s *Service) Get(ctx context.Context, who auth.Identity, id int64) (Student, error) {
	if !who.IsAdmin() && who.ID != id {
		return Student{}, apperr.Forbidden("cannot read another student")
	}
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil {
		return Student{}, apperr.NotFound("student %d not found", id)
	}
	return *st, nil
}

// List returns all students. Admin only.
func (s *Service) List(ctx context.Context, who auth.Identity) ([]Student, error) {
	if !who.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	return s.store.List(ctx)
}

// UpdateProfile edits non-room profile fields. Self or admin.
func (s *Service) UpdateProfile(ctx context.Context, who auth.Identity, id int64, name, batch, phone, photoURL string) (Student, error) {
	if !who.IsAdmin() && who.ID != id {
		return Student{}, apperr.Forbidden("cannot update another student")
	}
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if st == nil {
		return Student{}, apperr.NotFound("student %d not found", id)
	}
	if name == "" {
		name = st.Name
	}
	if err := s.store.UpdateProfile(ctx, id, name, batch, phone, photoURL); err != nil {
		return Student{}, err
	}
	st.Name, st.Batch, st.Phone, st.PhotoURL = name, batch, phone, photoURL
	return *st, nil
}

// Deactivate soft-disables a student, releasing any held room slot.
func (s *Service) Deactivate(ctx context.Context, who auth.Identity, id int64) error {
	return s.occ.DeactivateStudent(ctx, who, id)
}

// Delete removes a student entirely, decrementing their room's counter in the
// same transaction.
func (s *Service) Delete(ctx context.Context, who auth.Identity, id int64) error {
	return s.occ.DeleteStudent(ctx, who, id)
}
