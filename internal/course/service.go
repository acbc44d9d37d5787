package course

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"classattend/internal/domain"
)

// Course is one instructor's course.
type Course struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Enrollment joins a student to a course.
type Enrollment struct {
	ID        uuid.UUID `json:"id"`
	CourseID  uuid.UUID `json:"courseId"`
	StudentID uuid.UUID `json:"studentId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence the service needs.
type Store interface {
	InsertCourse(ctx context.Context, c Course) (Course, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	CoursesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Course, error)
	IsOwner(ctx context.Context, courseID, instructorID uuid.UUID) (bool, error)
	AddStudents(ctx context.Context, courseID uuid.UUID, studentIDs []uuid.UUID) (int, error)
	Roster(ctx context.Context, courseID uuid.UUID) ([]Enrollment, error)
	RemoveStudent(ctx context.Context, courseID, studentID uuid.UUID) error
	DeleteCascade(ctx context.Context, courseID uuid.UUID) error
}

// Service manages courses and their rosters.
type Service struct {
	store Store
}

// NewService creates a course service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create registers a course owned by the instructor.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string) (Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Course{}, fmt.Errorf("%w: name required", domain.ErrInvalidInput)
	}
	return s.store.InsertCourse(ctx, Course{ID: uuid.New(), OwnerID: ownerID, Name: name})
}

// ListOwned returns the instructor's courses.
func (s *Service) ListOwned(ctx context.Context, ownerID uuid.UUID) ([]Course, error) {
	return s.store.CoursesByOwner(ctx, ownerID)
}

// Delete removes a course and all dependent rows.
func (s *Service) Delete(ctx context.Context, instructorID, courseID uuid.UUID) error {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if c == nil {
		return domain.ErrNotFound
	}
	if c.OwnerID != instructorID {
		return domain.ErrUnauthorized
	}
	return s.store.DeleteCascade(ctx, courseID)
}

// Enroll bulk-adds students to the instructor's course and returns how many
// were newly enrolled.
func (s *Service) Enroll(ctx context.Context, instructorID, courseID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	if len(studentIDs) == 0 {
		return 0, fmt.Errorf("%w: studentIds required", domain.ErrInvalidInput)
	}
	if err := s.requireOwner(ctx, courseID, instructorID); err != nil {
		return 0, err
	}
	return s.store.AddStudents(ctx, courseID, studentIDs)
}

// Unenroll removes one student from the instructor's course.
func (s *Service) Unenroll(ctx context.Context, instructorID, courseID, studentID uuid.UUID) error {
	if err := s.requireOwner(ctx, courseID, instructorID); err != nil {
		return err
	}
	return s.store.RemoveStudent(ctx, courseID, studentID)
}

// Roster returns the instructor's course roster.
func (s *Service) Roster(ctx context.Context, instructorID, courseID uuid.UUID) ([]Enrollment, error) {
	if err := s.requireOwner(ctx, courseID, instructorID); err != nil {
		return nil, err
	}
	return s.store.Roster(ctx, courseID)
}

func (s *Service) requireOwner(ctx context.Context, courseID, instructorID uuid.UUID) error {
	ok, err := s.store.IsOwner(ctx, courseID, instructorID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}
