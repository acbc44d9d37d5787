// Package domain holds the error taxonomy shared by the session, attendance,
// and course services. Handlers match these with errors.Is to pick a status
// code; anything unrecognized is treated as a store/server failure.
package domain

import "errors"

var (
	// ErrUnauthorized means the principal does not own the resource the
	// action requires (e.g. opening a session for someone else's course).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput means the request was malformed or out of bounds.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCode means no redeemable session matches the submitted code.
	ErrInvalidCode = errors.New("invalid code")

	// ErrCodeExpired means the session backing the code is past expires_at.
	ErrCodeExpired = errors.New("code expired")

	// ErrNotEnrolled means the student has no enrollment for the course.
	ErrNotEnrolled = errors.New("not enrolled")

	// ErrDuplicateRecord means an attendance row already exists for the
	// student and meeting. Callers translate this into the alreadyRecorded
	// outcome rather than a failure.
	ErrDuplicateRecord = errors.New("attendance already recorded")

	// ErrSessionExists means another active session holds the
	// (course, session number) slot.
	ErrSessionExists = errors.New("active session exists")

	// ErrCodeTaken means the generated code collided with another active
	// session's code.
	ErrCodeTaken = errors.New("code taken")

	// ErrCodeSpaceExhausted means code generation kept colliding and the
	// caller gave up retrying.
	ErrCodeSpaceExhausted = errors.New("code space exhausted")
)
