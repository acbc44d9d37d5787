package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/course"
	"classattend/internal/domain"
	"classattend/internal/queue"
	"classattend/internal/session"
)

const (
	testSigningKey = "routes-test-key"
	testIssuer     = "classattend"
)

// memStore backs every service with one in-memory dataset so the handler
// tests exercise the real service wiring end to end.
type memStore struct {
	courses     map[uuid.UUID]*course.Course
	enrollments map[uuid.UUID]map[uuid.UUID]bool
	sessions    map[uuid.UUID]*session.Session
	records     map[uuid.UUID]*attendance.Record
}

func newMemStore() *memStore {
	return &memStore{
		courses:     make(map[uuid.UUID]*course.Course),
		enrollments: make(map[uuid.UUID]map[uuid.UUID]bool),
		sessions:    make(map[uuid.UUID]*session.Session),
		records:     make(map[uuid.UUID]*attendance.Record),
	}
}

func (m *memStore) InsertCourse(_ context.Context, c course.Course) (course.Course, error) {
	c.CreatedAt = time.Now().UTC()
	copied := c
	m.courses[c.ID] = &copied
	return c, nil
}

func (m *memStore) GetCourse(_ context.Context, id uuid.UUID) (*course.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) CoursesByOwner(_ context.Context, ownerID uuid.UUID) ([]course.Course, error) {
	var res []course.Course
	for _, c := range m.courses {
		if c.OwnerID == ownerID {
			res = append(res, *c)
		}
	}
	return res, nil
}

func (m *memStore) IsOwner(_ context.Context, courseID, instructorID uuid.UUID) (bool, error) {
	c, ok := m.courses[courseID]
	return ok && c.OwnerID == instructorID, nil
}

func (m *memStore) AddStudents(_ context.Context, courseID uuid.UUID, studentIDs []uuid.UUID) (int, error) {
	if m.enrollments[courseID] == nil {
		m.enrollments[courseID] = make(map[uuid.UUID]bool)
	}
	added := 0
	for _, id := range studentIDs {
		if !m.enrollments[courseID][id] {
			m.enrollments[courseID][id] = true
			added++
		}
	}
	return added, nil
}

func (m *memStore) IsEnrolled(_ context.Context, courseID, studentID uuid.UUID) (bool, error) {
	return m.enrollments[courseID][studentID], nil
}

func (m *memStore) Roster(_ context.Context, courseID uuid.UUID) ([]course.Enrollment, error) {
	var res []course.Enrollment
	for studentID := range m.enrollments[courseID] {
		res = append(res, course.Enrollment{ID: uuid.New(), CourseID: courseID, StudentID: studentID})
	}
	return res, nil
}

func (m *memStore) RemoveStudent(_ context.Context, courseID, studentID uuid.UUID) error {
	delete(m.enrollments[courseID], studentID)
	return nil
}

func (m *memStore) DeleteCascade(_ context.Context, courseID uuid.UUID) error {
	for id, rec := range m.records {
		if rec.CourseID == courseID {
			delete(m.records, id)
		}
	}
	for id, s := range m.sessions {
		if s.CourseID == courseID {
			delete(m.sessions, id)
		}
	}
	delete(m.enrollments, courseID)
	delete(m.courses, courseID)
	return nil
}

func (m *memStore) Insert(_ context.Context, s session.Session) error {
	for _, existing := range m.sessions {
		if !existing.IsActive {
			continue
		}
		if existing.CourseID == s.CourseID && existing.SessionNumber == s.SessionNumber {
			return domain.ErrSessionExists
		}
		if existing.Code == s.Code {
			return domain.ErrCodeTaken
		}
	}
	s.CreatedAt = time.Now().UTC()
	copied := s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memStore) ActiveByMeeting(_ context.Context, courseID uuid.UUID, sessionNumber int) (*session.Session, error) {
	for _, s := range m.sessions {
		if s.IsActive && s.CourseID == courseID && s.SessionNumber == sessionNumber {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) ByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memStore) ByCode(_ context.Context, code string) (*session.Session, error) {
	var latest *session.Session
	for _, s := range m.sessions {
		if s.Code != code {
			continue
		}
		if latest == nil || (s.IsActive && !latest.IsActive) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) Deactivate(_ context.Context, id uuid.UUID) error {
	if s, ok := m.sessions[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memStore) ListByCourse(_ context.Context, courseID uuid.UUID) ([]session.Session, error) {
	var res []session.Session
	for _, s := range m.sessions {
		if s.CourseID == courseID {
			res = append(res, *s)
		}
	}
	return res, nil
}

func (m *memStore) InsertRecord(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	for _, existing := range m.records {
		if existing.StudentID == rec.StudentID && existing.SessionID == rec.SessionID {
			return attendance.Record{}, domain.ErrDuplicateRecord
		}
		if existing.StudentID == rec.StudentID && existing.CourseID == rec.CourseID && existing.Date.Equal(rec.Date) {
			return attendance.Record{}, domain.ErrDuplicateRecord
		}
	}
	rec.CreatedAt = time.Now().UTC()
	copied := rec
	m.records[rec.ID] = &copied
	return rec, nil
}

func (m *memStore) RecordByID(_ context.Context, id uuid.UUID) (*attendance.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *memStore) ByStudentCourseDate(_ context.Context, studentID, courseID uuid.UUID, date time.Time) (*attendance.Record, error) {
	for _, rec := range m.records {
		if rec.StudentID == studentID && rec.CourseID == courseID && rec.Date.Equal(date) {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status attendance.Status) error {
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (m *memStore) List(_ context.Context, f attendance.ListFilter) ([]attendance.Record, error) {
	var res []attendance.Record
	for _, rec := range m.records {
		if f.CourseID != uuid.Nil && rec.CourseID != f.CourseID {
			continue
		}
		if f.SessionID != uuid.Nil && rec.SessionID != f.SessionID {
			continue
		}
		if f.StudentID != uuid.Nil && rec.StudentID != f.StudentID {
			continue
		}
		res = append(res, *rec)
	}
	return res, nil
}

func (m *memStore) CountByStatus(_ context.Context, courseID uuid.UUID) ([]attendance.StatusCount, error) {
	counts := make(map[uuid.UUID]map[attendance.Status]int64)
	for _, rec := range m.records {
		if rec.CourseID != courseID {
			continue
		}
		if counts[rec.StudentID] == nil {
			counts[rec.StudentID] = make(map[attendance.Status]int64)
		}
		counts[rec.StudentID][rec.Status]++
	}
	var res []attendance.StatusCount
	for studentID, byStatus := range counts {
		for status, total := range byStatus {
			res = append(res, attendance.StatusCount{StudentID: studentID, Status: status, Total: total})
		}
	}
	return res, nil
}

// recordStoreAdapter renames the methods that clash with the session store
// on the shared memStore.
type recordStoreAdapter struct{ *memStore }

func (a recordStoreAdapter) Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	return a.InsertRecord(ctx, rec)
}

func (a recordStoreAdapter) ByID(ctx context.Context, id uuid.UUID) (*attendance.Record, error) {
	return a.RecordByID(ctx, id)
}

func newTestRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	a := &api{
		courses:    course.NewService(store),
		sessions:   session.NewManager(store, store, 6, 240),
		attendance: attendance.NewEngine(recordStoreAdapter{store}, store, store, store),
		queue:      queue.NewInMemory(16),
	}

	r := gin.New()
	a.register(r.Group("/v1", auth.Principal(testSigningKey, testIssuer)))
	return r, store
}

func bearer(t *testing.T, subject uuid.UUID, role string) string {
	t.Helper()
	pair, err := auth.Issue(subject.String(), role, testIssuer, testSigningKey, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + pair.AccessToken
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestRoutesRequireAuthentication(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/courses", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestDoctorRoutesRejectStudents(t *testing.T) {
	r, _ := newTestRouter(t)
	student := bearer(t, uuid.New(), auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", student, map[string]any{"name": "Databases"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRedeemFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	doctorID := uuid.New()
	studentID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)
	student := bearer(t, studentID, auth.RoleStudent)

	// doctor sets up a course with one enrolled student
	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Databases"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create course: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	courseID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/courses/"+courseID+"/students", doctor, map[string]any{
		"studentIds": []string{studentID.String()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("enroll: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, map[string]any{
		"courseId":      courseID,
		"sessionNumber": 1,
		"ttlMinutes":    30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	code := decodeBody(t, w)["code"].(string)

	// first redemption writes a record
	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	first := decodeBody(t, w)
	if first["status"] != "recorded" {
		t.Fatalf("expected recorded, got %v", first["status"])
	}

	// second redemption is acknowledged without a second row
	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": code})
	if w.Code != http.StatusOK {
		t.Fatalf("second redeem: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	second := decodeBody(t, w)
	if second["status"] != "alreadyRecorded" {
		t.Fatalf("expected alreadyRecorded, got %v", second["status"])
	}
	if second["recordId"] != first["recordId"] {
		t.Fatalf("expected same record id, got %v and %v", first["recordId"], second["recordId"])
	}
}

func TestRedeemRejectsOutsiders(t *testing.T) {
	r, _ := newTestRouter(t)
	doctorID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)
	outsider := bearer(t, uuid.New(), auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Networks"})
	courseID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, map[string]any{
		"courseId":      courseID,
		"sessionNumber": 1,
		"ttlMinutes":    30,
	})
	code := decodeBody(t, w)["code"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", outsider, map[string]any{"code": code})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["error"] != "not_enrolled" {
		t.Fatalf("expected not_enrolled, got %s", w.Body.String())
	}
}

func TestRedeemUnknownCodeIsBadRequest(t *testing.T) {
	r, _ := newTestRouter(t)
	student := bearer(t, uuid.New(), auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": "ZZZZZZ"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["error"] != "invalid_code" {
		t.Fatalf("expected invalid_code, got %s", w.Body.String())
	}
}

func TestRedeemExpiredCodeIsConflict(t *testing.T) {
	r, store := newTestRouter(t)
	doctorID := uuid.New()
	studentID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)
	student := bearer(t, studentID, auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Compilers"})
	courseID := decodeBody(t, w)["id"].(string)
	doJSON(t, r, http.MethodPost, "/v1/courses/"+courseID+"/students", doctor, map[string]any{
		"studentIds": []string{studentID.String()},
	})
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, map[string]any{
		"courseId":      courseID,
		"sessionNumber": 1,
		"ttlMinutes":    30,
	})
	code := decodeBody(t, w)["code"].(string)

	for _, s := range store.sessions {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": code})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["error"] != "code_expired" {
		t.Fatalf("expected code_expired, got %s", w.Body.String())
	}
}

func TestCloseSessionStopsRedemption(t *testing.T) {
	r, _ := newTestRouter(t)
	doctorID := uuid.New()
	studentID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)
	student := bearer(t, studentID, auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Algorithms"})
	courseID := decodeBody(t, w)["id"].(string)
	doJSON(t, r, http.MethodPost, "/v1/courses/"+courseID+"/students", doctor, map[string]any{
		"studentIds": []string{studentID.String()},
	})
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, map[string]any{
		"courseId":      courseID,
		"sessionNumber": 1,
		"ttlMinutes":    30,
	})
	opened := decodeBody(t, w)
	code := opened["code"].(string)

	w = doJSON(t, r, http.MethodPost, "/v1/sessions/close", doctor, map[string]any{
		"sessionId": opened["sessionId"],
	})
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": code})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 after close, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOverrideEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	doctorID := uuid.New()
	studentID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)
	student := bearer(t, studentID, auth.RoleStudent)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Operating Systems"})
	courseID := decodeBody(t, w)["id"].(string)
	doJSON(t, r, http.MethodPost, "/v1/courses/"+courseID+"/students", doctor, map[string]any{
		"studentIds": []string{studentID.String()},
	})
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, map[string]any{
		"courseId":      courseID,
		"sessionNumber": 1,
		"ttlMinutes":    30,
	})
	code := decodeBody(t, w)["code"].(string)
	w = doJSON(t, r, http.MethodPost, "/v1/attendance/redeem", student, map[string]any{"code": code})
	recordID := decodeBody(t, w)["recordId"].(string)

	w = doJSON(t, r, http.MethodPatch, "/v1/attendance/"+recordID, doctor, map[string]any{"status": "late"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("override: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// a doctor who does not own the course is refused
	other := bearer(t, uuid.New(), auth.RoleDoctor)
	w = doJSON(t, r, http.MethodPatch, "/v1/attendance/"+recordID, other, map[string]any{"status": "absent"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPatch, fmt.Sprintf("/v1/attendance/%s", uuid.New()), doctor, map[string]any{"status": "absent"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOpenSessionIsIdempotent(t *testing.T) {
	r, _ := newTestRouter(t)
	doctorID := uuid.New()
	doctor := bearer(t, doctorID, auth.RoleDoctor)

	w := doJSON(t, r, http.MethodPost, "/v1/courses", doctor, map[string]any{"name": "Calculus"})
	courseID := decodeBody(t, w)["id"].(string)

	open := map[string]any{"courseId": courseID, "sessionNumber": 1, "ttlMinutes": 30}
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, open)
	first := decodeBody(t, w)
	w = doJSON(t, r, http.MethodPost, "/v1/sessions/open", doctor, open)
	second := decodeBody(t, w)
	if first["sessionId"] != second["sessionId"] || first["code"] != second["code"] {
		t.Fatalf("expected identical session on re-open, got %v and %v", first, second)
	}
}
