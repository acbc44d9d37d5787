package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"classattend/internal/domain"
	"classattend/internal/store"
)

// Repository persists attendance sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_id, session_number, code, date, created_by, expires_at, is_active, created_at`

// Insert writes a new session row. The partial unique indexes on active rows
// decide the winner under concurrent opens; losing inserts come back as
// domain.ErrSessionExists (meeting slot taken) or domain.ErrCodeTaken (code
// collision).
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, session_number, code, date, created_by, expires_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.CourseID, s.SessionNumber, s.Code, s.Date, s.CreatedBy, s.ExpiresAt, s.IsActive)
	if err != nil {
		switch store.ViolatedConstraint(err) {
		case "uq_sessions_active_meeting":
			return domain.ErrSessionExists
		case "uq_sessions_active_code":
			return domain.ErrCodeTaken
		}
		return err
	}
	return nil
}

// ActiveByMeeting returns the active session for a course meeting, or nil.
func (r *Repository) ActiveByMeeting(ctx context.Context, courseID uuid.UUID, sessionNumber int) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE course_id = $1 AND session_number = $2 AND is_active
	`, courseID, sessionNumber)
	return scanSession(row)
}

// ByID returns a session by id, or nil when absent.
func (r *Repository) ByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

// ByCode returns the most recent session carrying the code, active or not.
// Redemption decides between expired and closed from the row itself.
func (r *Repository) ByCode(ctx context.Context, code string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE code = $1
		ORDER BY is_active DESC, created_at DESC
		LIMIT 1
	`, code)
	return scanSession(row)
}

// Deactivate flips is_active off. Already-closed sessions are left alone.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// ListByCourse returns all sessions for a course, newest first.
func (r *Repository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE course_id = $1
		ORDER BY session_number DESC, created_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.SessionNumber, &s.Code, &s.Date, &s.CreatedBy, &s.ExpiresAt, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.CourseID, &s.SessionNumber, &s.Code, &s.Date, &s.CreatedBy, &s.ExpiresAt, &s.IsActive, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
