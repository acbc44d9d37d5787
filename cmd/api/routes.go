package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/course"
	"classattend/internal/domain"
	"classattend/internal/notify"
	"classattend/internal/queue"
	"classattend/internal/session"
)

type api struct {
	courses    *course.Service
	sessions   *session.Manager
	attendance *attendance.Engine
	queue      queue.Queue
}

func (a *api) register(v1 *gin.RouterGroup) {
	doctor := v1.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/courses", a.createCourse)
	doctor.GET("/courses", a.listCourses)
	doctor.DELETE("/courses/:id", a.deleteCourse)
	doctor.POST("/courses/:id/students", a.enrollStudents)
	doctor.DELETE("/courses/:id/students/:studentId", a.unenrollStudent)
	doctor.GET("/courses/:id/students", a.roster)
	doctor.GET("/courses/:id/sessions", a.courseSessions)
	doctor.GET("/courses/:id/report", a.courseReport)
	doctor.POST("/sessions/open", a.openSession)
	doctor.POST("/sessions/close", a.closeSession)
	doctor.PATCH("/attendance/:id", a.overrideAttendance)

	v1.GET("/sessions/active", a.activeSession)
	v1.GET("/attendance", a.listAttendance)
	v1.POST("/attendance/redeem", auth.RequireRole(auth.RoleStudent), a.redeem)
}

// Courses

func (a *api) createCourse(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := a.courses.Create(c.Request.Context(), auth.PrincipalID(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (a *api) listCourses(c *gin.Context) {
	courses, err := a.courses.ListOwned(c.Request.Context(), auth.PrincipalID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (a *api) deleteCourse(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := a.courses.Delete(c.Request.Context(), auth.PrincipalID(c), courseID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Enrollments

func (a *api) enrollStudents(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		StudentIDs []string `json:"studentIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	studentIDs := make([]uuid.UUID, 0, len(req.StudentIDs))
	for _, raw := range req.StudentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
			return
		}
		studentIDs = append(studentIDs, id)
	}
	added, err := a.courses.Enroll(c.Request.Context(), auth.PrincipalID(c), courseID, studentIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (a *api) unenrollStudent(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	studentID, ok := pathUUID(c, "studentId")
	if !ok {
		return
	}
	if err := a.courses.Unenroll(c.Request.Context(), auth.PrincipalID(c), courseID, studentID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) roster(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	students, err := a.courses.Roster(c.Request.Context(), auth.PrincipalID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

// Sessions

func (a *api) openSession(c *gin.Context) {
	var req struct {
		CourseID      string `json:"courseId" binding:"required"`
		SessionNumber int    `json:"sessionNumber" binding:"required"`
		TTLMinutes    int    `json:"ttlMinutes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}
	s, err := a.sessions.Open(c.Request.Context(), auth.PrincipalID(c), courseID, req.SessionNumber, req.TTLMinutes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": s.ID,
		"code":      s.Code,
		"expiresAt": s.ExpiresAt,
	})
}

func (a *api) closeSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := a.sessions.Close(c.Request.Context(), auth.PrincipalID(c), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *api) activeSession(c *gin.Context) {
	courseID, err := uuid.Parse(c.Query("courseId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}
	sessionNumber, err := strconv.Atoi(c.Query("sessionNumber"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session number"})
		return
	}
	s, err := a.sessions.Active(c.Request.Context(), courseID, sessionNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *api) courseSessions(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sessions, err := a.sessions.ForCourse(c.Request.Context(), auth.PrincipalID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Attendance

func (a *api) redeem(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := a.attendance.Redeem(c.Request.Context(), auth.PrincipalID(c), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	status := "recorded"
	if result.Already {
		status = "alreadyRecorded"
	} else {
		a.publishRecorded(c, result.Record)
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "recordId": result.Record.ID})
}

func (a *api) listAttendance(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var courseID, sessionID uuid.UUID
	if v := c.Query("courseId"); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
			return
		}
		courseID = parsed
	}
	if v := c.Query("sessionId"); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		sessionID = parsed
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	var records []attendance.Record
	var err error
	switch claims.Role {
	case auth.RoleDoctor:
		records, err = a.attendance.ListForInstructor(c.Request.Context(), auth.PrincipalID(c), attendance.ListFilter{
			CourseID:  courseID,
			SessionID: sessionID,
			Limit:     limit,
			Offset:    offset,
		})
	case auth.RoleStudent:
		records, err = a.attendance.ListForStudent(c.Request.Context(), auth.PrincipalID(c), courseID, limit, offset)
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (a *api) overrideAttendance(c *gin.Context) {
	recordID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := a.attendance.Override(c.Request.Context(), auth.PrincipalID(c), recordID, status); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) courseReport(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	counts, err := a.attendance.Report(c.Request.Context(), auth.PrincipalID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courseId": courseID, "counts": counts})
}

// publishRecorded hands a fresh record to the notification queue. Best
// effort: a queue failure is logged, never surfaced to the student.
func (a *api) publishRecorded(c *gin.Context, rec attendance.Record) {
	evt := notify.Event{
		Type:       notify.EventRecorded,
		RecordID:   rec.ID.String(),
		StudentID:  rec.StudentID.String(),
		CourseID:   rec.CourseID.String(),
		SessionID:  rec.SessionID.String(),
		Status:     string(rec.Status),
		OccurredAt: rec.CreatedAt.UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("marshal event failed: %v", err)
		return
	}
	if err := a.queue.Publish(c.Request.Context(), queue.Message{Type: notify.EventRecorded, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps domain errors onto status codes so redemption-flow
// outcomes stay distinguishable from transport and server failures.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, domain.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
	case errors.Is(err, domain.ErrCodeExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "code_expired"})
	case errors.Is(err, domain.ErrNotEnrolled):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_enrolled"})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
