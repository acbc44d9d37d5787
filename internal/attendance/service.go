package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"classattend/internal/domain"
	"classattend/internal/session"
)

// Status is an attendance record's state. Redemption only ever produces
// present; absent and late are instructor overrides.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// ParseStatus validates a status coming off the wire.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPresent:
		return StatusPresent, nil
	case StatusAbsent:
		return StatusAbsent, nil
	case StatusLate:
		return StatusLate, nil
	}
	return "", fmt.Errorf("%w: status must be present, absent, or late", domain.ErrInvalidInput)
}

// Record is one student's immutable attendance fact for one course meeting.
type Record struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"studentId"`
	CourseID  uuid.UUID `json:"courseId"`
	SessionID uuid.UUID `json:"sessionId"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordStore is the persistence the engine needs.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	ByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ByStudentCourseDate(ctx context.Context, studentID, courseID uuid.UUID, date time.Time) (*Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	List(ctx context.Context, f ListFilter) ([]Record, error)
	CountByStatus(ctx context.Context, courseID uuid.UUID) ([]StatusCount, error)
}

// SessionDirectory resolves submitted codes to sessions.
type SessionDirectory interface {
	ByCode(ctx context.Context, code string) (*session.Session, error)
}

// EnrollmentDirectory answers whether a student belongs to a course.
type EnrollmentDirectory interface {
	IsEnrolled(ctx context.Context, courseID, studentID uuid.UUID) (bool, error)
}

// CourseDirectory answers ownership questions for instructor actions.
type CourseDirectory interface {
	IsOwner(ctx context.Context, courseID, instructorID uuid.UUID) (bool, error)
}

// RedeemResult is the outcome of a redemption attempt. Already is true when
// the student had a record for the meeting before this attempt; the record
// is the surviving row either way.
type RedeemResult struct {
	Record  Record
	Already bool
}

// Engine validates session codes and performs the at-most-once attendance
// write.
type Engine struct {
	records     RecordStore
	sessions    SessionDirectory
	enrollments EnrollmentDirectory
	courses     CourseDirectory
	now         func() time.Time
}

// NewEngine creates a redemption engine.
func NewEngine(records RecordStore, sessions SessionDirectory, enrollments EnrollmentDirectory, courses CourseDirectory) *Engine {
	return &Engine{
		records:     records,
		sessions:    sessions,
		enrollments: enrollments,
		courses:     courses,
		now:         time.Now,
	}
}

// Redeem turns a submitted code into an attendance record: look the session
// up, check expiry and enrollment, then insert exactly once. The store's
// uniqueness constraint is the source of truth under concurrent duplicates;
// the pre-insert lookup is only a fast path.
func (e *Engine) Redeem(ctx context.Context, studentID uuid.UUID, code string) (RedeemResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return RedeemResult{}, domain.ErrInvalidCode
	}

	sess, err := e.sessions.ByCode(ctx, code)
	if err != nil {
		return RedeemResult{}, err
	}
	if sess == nil {
		return RedeemResult{}, domain.ErrInvalidCode
	}
	now := e.now().UTC()
	if sess.Expired(now) {
		return RedeemResult{}, domain.ErrCodeExpired
	}
	if !sess.IsActive {
		// closed early by the instructor
		return RedeemResult{}, domain.ErrInvalidCode
	}

	enrolled, err := e.enrollments.IsEnrolled(ctx, sess.CourseID, studentID)
	if err != nil {
		return RedeemResult{}, err
	}
	if !enrolled {
		return RedeemResult{}, domain.ErrNotEnrolled
	}

	if existing, err := e.records.ByStudentCourseDate(ctx, studentID, sess.CourseID, sess.Date); err != nil {
		return RedeemResult{}, err
	} else if existing != nil {
		return RedeemResult{Record: *existing, Already: true}, nil
	}

	created, err := e.records.Insert(ctx, Record{
		ID:        uuid.New(),
		StudentID: studentID,
		CourseID:  sess.CourseID,
		SessionID: sess.ID,
		Date:      sess.Date,
		Status:    StatusPresent,
	})
	if err == nil {
		return RedeemResult{Record: created}, nil
	}
	if errors.Is(err, domain.ErrDuplicateRecord) {
		// lost the race to a concurrent duplicate; return the winner's row
		winner, ferr := e.records.ByStudentCourseDate(ctx, studentID, sess.CourseID, sess.Date)
		if ferr != nil {
			return RedeemResult{}, ferr
		}
		if winner != nil {
			return RedeemResult{Record: *winner, Already: true}, nil
		}
	}
	return RedeemResult{}, err
}

// Override lets the owning instructor change a record's status. It never
// creates records; redemption is the only writer of new rows.
func (e *Engine) Override(ctx context.Context, instructorID, recordID uuid.UUID, status Status) error {
	rec, err := e.records.ByID(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrNotFound
	}
	if err := e.requireOwner(ctx, rec.CourseID, instructorID); err != nil {
		return err
	}
	return e.records.UpdateStatus(ctx, recordID, status)
}

// ListForInstructor returns a course's records for its owner.
func (e *Engine) ListForInstructor(ctx context.Context, instructorID uuid.UUID, f ListFilter) ([]Record, error) {
	if f.CourseID == uuid.Nil {
		return nil, fmt.Errorf("%w: courseId required", domain.ErrInvalidInput)
	}
	if err := e.requireOwner(ctx, f.CourseID, instructorID); err != nil {
		return nil, err
	}
	return e.records.List(ctx, f)
}

// ListForStudent returns the student's own records, optionally per course.
func (e *Engine) ListForStudent(ctx context.Context, studentID uuid.UUID, courseID uuid.UUID, limit, offset int) ([]Record, error) {
	return e.records.List(ctx, ListFilter{
		CourseID:  courseID,
		StudentID: studentID,
		Limit:     limit,
		Offset:    offset,
	})
}

// Report aggregates a course's per-student status counts for its owner.
func (e *Engine) Report(ctx context.Context, instructorID, courseID uuid.UUID) ([]StatusCount, error) {
	if err := e.requireOwner(ctx, courseID, instructorID); err != nil {
		return nil, err
	}
	return e.records.CountByStatus(ctx, courseID)
}

func (e *Engine) requireOwner(ctx context.Context, courseID, instructorID uuid.UUID) error {
	ok, err := e.courses.IsOwner(ctx, courseID, instructorID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}
