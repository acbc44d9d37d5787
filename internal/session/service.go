package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classattend/internal/domain"
)

// Session represents one meeting's attendance window, identified by a short
// one-time code while it is open.
type Session struct {
	ID            uuid.UUID `json:"id"`
	CourseID      uuid.UUID `json:"courseId"`
	SessionNumber int       `json:"sessionNumber"`
	Code          string    `json:"code"`
	Date          time.Time `json:"date"`
	CreatedBy     uuid.UUID `json:"createdBy"`
	ExpiresAt     time.Time `json:"expiresAt"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Expired reports whether the window is past its deadline. The timestamp is
// the authority; is_active only signals an explicit close.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store is the session persistence the manager needs.
type Store interface {
	Insert(ctx context.Context, s Session) error
	ActiveByMeeting(ctx context.Context, courseID uuid.UUID, sessionNumber int) (*Session, error)
	ByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]Session, error)
}

// CourseDirectory answers ownership questions for authorization.
type CourseDirectory interface {
	IsOwner(ctx context.Context, courseID, instructorID uuid.UUID) (bool, error)
}

// maxCodeRetries bounds regeneration on code collisions before giving up
// with ErrCodeSpaceExhausted.
const maxCodeRetries = 5

// Manager opens, queries, and closes attendance sessions.
type Manager struct {
	store      Store
	courses    CourseDirectory
	codeLength int
	maxTTL     int
	now        func() time.Time
}

// NewManager creates a session manager. maxTTLMinutes bounds how long a
// window may stay open.
func NewManager(store Store, courses CourseDirectory, codeLength, maxTTLMinutes int) *Manager {
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	if maxTTLMinutes <= 0 {
		maxTTLMinutes = 240
	}
	return &Manager{
		store:      store,
		courses:    courses,
		codeLength: codeLength,
		maxTTL:     maxTTLMinutes,
		now:        time.Now,
	}
}

// Open starts an attendance window for a course meeting. Re-opening an
// unexpired meeting returns the existing session unchanged, so handing the
// same code out twice is safe. Two concurrent opens converge on one winner
// through the store's active-meeting uniqueness.
func (m *Manager) Open(ctx context.Context, instructorID, courseID uuid.UUID, sessionNumber, ttlMinutes int) (Session, error) {
	if sessionNumber < 1 {
		return Session{}, fmt.Errorf("%w: sessionNumber must be >= 1", domain.ErrInvalidInput)
	}
	if ttlMinutes < 1 || ttlMinutes > m.maxTTL {
		return Session{}, fmt.Errorf("%w: ttlMinutes must be 1-%d", domain.ErrInvalidInput, m.maxTTL)
	}
	if err := m.requireOwner(ctx, courseID, instructorID); err != nil {
		return Session{}, err
	}

	now := m.now().UTC()
	existing, err := m.store.ActiveByMeeting(ctx, courseID, sessionNumber)
	if err != nil {
		return Session{}, err
	}
	if existing != nil {
		if !existing.Expired(now) {
			return *existing, nil
		}
		// stale window nobody closed; retire it so a fresh one can open
		if err := m.store.Deactivate(ctx, existing.ID); err != nil {
			return Session{}, err
		}
	}

	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := GenerateCode(m.codeLength)
		if err != nil {
			return Session{}, err
		}
		s := Session{
			ID:            uuid.New(),
			CourseID:      courseID,
			SessionNumber: sessionNumber,
			Code:          code,
			Date:          now.Truncate(24 * time.Hour),
			CreatedBy:     instructorID,
			ExpiresAt:     now.Add(time.Duration(ttlMinutes) * time.Minute),
			IsActive:      true,
		}
		err = m.store.Insert(ctx, s)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, domain.ErrSessionExists):
			winner, ferr := m.store.ActiveByMeeting(ctx, courseID, sessionNumber)
			if ferr != nil {
				return Session{}, ferr
			}
			if winner != nil {
				return *winner, nil
			}
			// winner closed before we could read it; try again
		case errors.Is(err, domain.ErrCodeTaken):
			// collide-and-retry with a fresh code
		default:
			return Session{}, err
		}
	}
	return Session{}, domain.ErrCodeSpaceExhausted
}

// Close ends a window early. Closing an already-closed session is a no-op.
func (m *Manager) Close(ctx context.Context, instructorID, sessionID uuid.UUID) error {
	s, err := m.store.ByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return domain.ErrNotFound
	}
	if err := m.requireOwner(ctx, s.CourseID, instructorID); err != nil {
		return err
	}
	if !s.IsActive {
		return nil
	}
	return m.store.Deactivate(ctx, sessionID)
}

// Active returns the open session for a course meeting, or nil when none.
func (m *Manager) Active(ctx context.Context, courseID uuid.UUID, sessionNumber int) (*Session, error) {
	if sessionNumber < 1 {
		return nil, fmt.Errorf("%w: sessionNumber must be >= 1", domain.ErrInvalidInput)
	}
	return m.store.ActiveByMeeting(ctx, courseID, sessionNumber)
}

// ForCourse lists a course's sessions for its owner.
func (m *Manager) ForCourse(ctx context.Context, instructorID, courseID uuid.UUID) ([]Session, error) {
	if err := m.requireOwner(ctx, courseID, instructorID); err != nil {
		return nil, err
	}
	return m.store.ListByCourse(ctx, courseID)
}

func (m *Manager) requireOwner(ctx context.Context, courseID, instructorID uuid.UUID) error {
	ok, err := m.courses.IsOwner(ctx, courseID, instructorID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}
