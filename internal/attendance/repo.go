package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classattend/internal/domain"
	"classattend/internal/store"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, course_id, session_id, date, status, created_at`

// Insert writes a new attendance record. The unique constraints on
// (student_id, session_id) and (student_id, course_id, date) serialize
// concurrent duplicate submissions; losers get domain.ErrDuplicateRecord.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, session_id, date, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.CourseID, rec.SessionID, rec.Date, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, domain.ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// ByID returns a record by id, or nil when absent.
func (r *Repository) ByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE id = $1
	`, id)
	return scanRecord(row)
}

// ByStudentCourseDate returns the student's record for a course meeting day,
// or nil. Both uniqueness constraints funnel through this lookup when a
// losing insert needs the winner's row.
func (r *Repository) ByStudentCourseDate(ctx context.Context, studentID, courseID uuid.UUID, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND course_id = $2 AND date = $3
	`, studentID, courseID, date)
	return scanRecord(row)
}

// UpdateStatus sets a record's status. Used by instructor overrides only.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFilter narrows List results. Nil UUIDs mean no filter.
type ListFilter struct {
	CourseID  uuid.UUID
	SessionID uuid.UUID
	StudentID uuid.UUID
	Limit     int
	Offset    int
}

// List returns records with basic filters, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if f.CourseID != uuid.Nil {
		clauses = append(clauses, "course_id = $"+itoa(len(args)+1))
		args = append(args, f.CourseID)
	}
	if f.SessionID != uuid.Nil {
		clauses = append(clauses, "session_id = $"+itoa(len(args)+1))
		args = append(args, f.SessionID)
	}
	if f.StudentID != uuid.Nil {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, f.StudentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.SessionID, &rec.Date, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// StatusCount is one row of a course attendance report.
type StatusCount struct {
	StudentID uuid.UUID `json:"studentId"`
	Status    Status    `json:"status"`
	Total     int64     `json:"total"`
}

// CountByStatus aggregates records per student and status for a course.
func (r *Repository) CountByStatus(ctx context.Context, courseID uuid.UUID) ([]StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, status, COUNT(*)
		FROM attendance_records
		WHERE course_id = $1
		GROUP BY student_id, status
		ORDER BY student_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.StudentID, &sc.Status, &sc.Total); err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.SessionID, &rec.Date, &rec.Status, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
