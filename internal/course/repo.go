package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists courses and enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertCourse writes a new course row.
func (r *Repository) InsertCourse(ctx context.Context, c Course) (Course, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (id, owner_id, name)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`, c.ID, c.OwnerID, c.Name)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return Course{}, err
	}
	return c, nil
}

// GetCourse returns a course by id, or nil when absent.
func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at FROM courses WHERE id = $1
	`, id)
	var c Course
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// CoursesByOwner returns an instructor's courses.
func (r *Repository) CoursesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at
		FROM courses
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// IsOwner is the single ownership predicate every instructor action funnels
// through.
func (r *Repository) IsOwner(ctx context.Context, courseID, instructorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1 AND owner_id = $2)
	`, courseID, instructorID).Scan(&exists)
	return exists, err
}

// AddStudents enrolls students in bulk. Re-adding an enrolled student is a
// no-op via the (course_id, student_id) constraint; the return value counts
// rows actually created.
func (r *Repository) AddStudents(ctx context.Context, courseID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	added := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, studentID := range studentIDs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO course_students (id, course_id, student_id)
				VALUES ($1,$2,$3)
				ON CONFLICT (course_id, student_id) DO NOTHING
			`, uuid.New(), courseID, studentID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// IsEnrolled reports whether the student has an enrollment for the course.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, studentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_students WHERE course_id = $1 AND student_id = $2)
	`, courseID, studentID).Scan(&exists)
	return exists, err
}

// Roster returns a course's enrollments.
func (r *Repository) Roster(ctx context.Context, courseID uuid.UUID) ([]Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, student_id, created_at
		FROM course_students
		WHERE course_id = $1
		ORDER BY created_at
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.CourseID, &e.StudentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// RemoveStudent unenrolls one student, deleting their attendance rows for
// the course first so the cleanup never strands records. Both deletes run in
// one transaction; a partial failure reports the stage that broke.
func (r *Repository) RemoveStudent(ctx context.Context, courseID, studentID uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM attendance_records WHERE course_id = $1 AND student_id = $2
		`, courseID, studentID); err != nil {
			return fmt.Errorf("delete attendance records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM course_students WHERE course_id = $1 AND student_id = $2
		`, courseID, studentID); err != nil {
			return fmt.Errorf("delete enrollment: %w", err)
		}
		return nil
	})
}

// DeleteCascade removes a course and everything hanging off it in dependency
// order: attendance records, then sessions, then enrollments, then the
// course. One transaction; the failing stage is named in the error.
func (r *Repository) DeleteCascade(ctx context.Context, courseID uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE course_id = $1`, courseID); err != nil {
			return fmt.Errorf("delete attendance records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE course_id = $1`, courseID); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM course_students WHERE course_id = $1`, courseID); err != nil {
			return fmt.Errorf("delete enrollments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, courseID); err != nil {
			return fmt.Errorf("delete course: %w", err)
		}
		return nil
	})
}

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
