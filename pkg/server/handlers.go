package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/qr"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/session"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if !s.checkCredentials(req.Username, req.Password) {
		s.log.WithField("username", req.Username).Warn("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expires, err := s.issueToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// decodeFrame accepts either a bare base64 string or a browser data
// URL ("data:image/jpeg;base64,...") and returns the raw image bytes.
func decodeFrame(s string) ([]byte, error) {
	if idx := strings.Index(s, ";base64,"); idx >= 0 {
		s = s[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("frame is not valid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("frame is empty")
	}
	return data, nil
}

func (s *Server) handleStartSession(c *gin.Context) {
	c.JSON(http.StatusCreated, s.sessions.Begin())
}

type frameRequest struct {
	Frame string `json:"frame" binding:"required"`
}

func (s *Server) handleSessionFrame(c *gin.Context) {
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame is required"})
		return
	}

	data, err := decodeFrame(req.Frame)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.sessions.ProcessFrame(c.Param("id"), data)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSessionMark(c *gin.Context) {
	result, err := s.sessions.Mark(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSessionReset(c *gin.Context) {
	result, err := s.sessions.Reset(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEndSession(c *gin.Context) {
	s.sessions.End(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
	case errors.Is(err, session.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "identity not confirmed yet"})
	case errors.Is(err, engine.ErrBadFrame), errors.Is(err, qr.ErrBadFrame):
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame could not be decoded as an image"})
	default:
		s.log.WithError(err).Error("Frame processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleListStudents(c *gin.Context) {
	students, err := s.students.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read students"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

type registerRequest struct {
	RollNumber string `json:"roll_number" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Gender     string `json:"gender"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Branch     string `json:"branch" binding:"required"`
}

func (s *Server) handleRegisterStudent(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roll_number, name and branch are required"})
		return
	}

	rec := store.StudentRecord{
		RollNumber: req.RollNumber,
		Name:       req.Name,
		Gender:     req.Gender,
		Email:      req.Email,
		Phone:      req.Phone,
		Branch:     req.Branch,
	}
	if err := s.students.Save(rec); err != nil {
		if errors.Is(err, store.ErrStudentExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "roll number already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save student"})
		return
	}

	qrPath, _, err := s.codec.GenerateForStudent(req.RollNumber, req.Name, req.Branch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "student saved but QR generation failed"})
		return
	}
	if err := s.students.SetQRCodePath(req.RollNumber, qrPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record QR code path"})
		return
	}
	rec.QRCodePath = qrPath

	s.log.WithFields(logging.Fields{
		"roll_number": rec.RollNumber,
		"branch":      rec.Branch,
	}).Info("Student registered")
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleGetStudent(c *gin.Context) {
	rec, err := s.students.Get(c.Param("roll"))
	if err != nil {
		if errors.Is(err, store.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read student"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleDeleteStudent removes the roster entry and every artifact
// derived from it, so a deleted roll number can be re-registered from
// a clean slate.
func (s *Server) handleDeleteStudent(c *gin.Context) {
	roll := c.Param("roll")

	rec, err := s.students.Get(roll)
	if err != nil {
		if errors.Is(err, store.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read student"})
		return
	}

	if err := s.students.Delete(roll); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete student"})
		return
	}
	if err := s.templates.Remove(roll); err != nil {
		s.log.WithError(err).WithField("roll_number", roll).Warn("Could not remove face template")
	}
	if rec.QRCodePath != "" {
		os.Remove(rec.QRCodePath)
	}
	os.RemoveAll(s.cfg.TrainingImageDir(roll))

	s.log.WithField("roll_number", roll).Info("Student deleted")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRegenerateQR(c *gin.Context) {
	roll := c.Param("roll")

	rec, err := s.students.Get(roll)
	if err != nil {
		if errors.Is(err, store.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read student"})
		return
	}

	// The old image stays invalid forever: the embedded unique ID
	// changes with every generation.
	if rec.QRCodePath != "" {
		os.Remove(rec.QRCodePath)
	}
	qrPath, payload, err := s.codec.GenerateForStudent(rec.RollNumber, rec.Name, rec.Branch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate QR code"})
		return
	}
	if err := s.students.SetQRCodePath(roll, qrPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record QR code path"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"qr_code_path": qrPath, "unique_id": payload.UniqueID})
}

type trainRequest struct {
	Frames []string `json:"frames" binding:"required"`
}

func (s *Server) handleTrainStudent(c *gin.Context) {
	roll := c.Param("roll")

	rec, err := s.students.Get(roll)
	if err != nil {
		if errors.Is(err, store.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read student"})
		return
	}

	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frames are required"})
		return
	}

	frames := make([]engine.Frame, 0, len(req.Frames))
	for i, raw := range req.Frames {
		data, err := decodeFrame(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("frame %d: %v", i, err)})
			return
		}
		frames = append(frames, engine.Frame{Data: data, Timestamp: time.Now()})
	}

	s.saveTrainingImages(roll, frames)

	tpl, err := s.trainer.Train(rec.RollNumber, rec.Name, frames, s.templates)
	if err != nil {
		if errors.Is(err, engine.ErrInsufficientSamples) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.log.WithError(err).WithField("roll_number", roll).Error("Training failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "training failed"})
		return
	}

	if err := s.students.SetFaceTrained(roll, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "template stored but roster update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roll_number":   tpl.StudentID,
		"capture_count": tpl.CaptureCount,
		"trained_at":    tpl.TrainedAt.UTC().Format(time.RFC3339),
	})
}

// saveTrainingImages keeps the raw enrollment captures on disk so a
// student can be retrained after tolerance changes without standing in
// front of the camera again. Failures here only cost that ability.
func (s *Server) saveTrainingImages(roll string, frames []engine.Frame) {
	dir := s.cfg.TrainingImageDir(roll)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.log.WithError(err).Warn("Could not create training image directory")
		return
	}
	for i, frame := range frames {
		name := filepath.Join(dir, fmt.Sprintf("capture_%02d.jpg", i+1))
		if err := os.WriteFile(name, frame.Data, 0644); err != nil {
			s.log.WithError(err).Warn("Could not save training image")
			return
		}
	}
}

func (s *Server) handleDashboard(c *gin.Context) {
	students, err := s.students.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read students"})
		return
	}
	trained := 0
	for _, rec := range students {
		if rec.FaceTrained {
			trained++
		}
	}

	today := time.Now().Format("2006-01-02")
	total, byBranch, err := s.attendance.Stats(today)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read attendance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":             today,
		"total_students":   len(students),
		"trained_students": trained,
		"present_today":    total,
		"branch_wise":      byBranch,
		"live_sessions":    s.sessions.Len(),
	})
}

func (s *Server) handleAttendanceReport(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	branch := c.Query("branch")

	records, err := s.attendance.Report(date, branch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "branch": branch, "records": records, "count": len(records)})
}

func (s *Server) handleDeleteAttendance(c *gin.Context) {
	timestamp := c.Param("timestamp")
	if err := s.attendance.Delete(timestamp); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attendance record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete record"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleExportAttendance(c *gin.Context) {
	name := fmt.Sprintf("attendance_export_%s.csv", time.Now().Format("20060102_150405"))
	path, err := s.attendance.Export(filepath.Join(s.cfg.Storage.DataDir, name))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.FileAttachment(path, name)
}
