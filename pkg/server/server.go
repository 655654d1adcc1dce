// Package server exposes the attendance service over HTTP: a kiosk
// API for attendance sessions, a faculty API behind JWT auth, and a
// WebSocket feed of live marks.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/config"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/qr"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/session"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

// Trainer builds face templates from enrollment captures.
type Trainer interface {
	Train(studentID, name string, frames []engine.Frame, reg *registry.Registry) (*registry.FaceTemplate, error)
}

// Server ties the transport to the attendance pipeline.
type Server struct {
	cfg        *config.Config
	sessions   *session.Manager
	students   *store.StudentStore
	attendance *store.AttendanceStore
	templates  *registry.Registry
	codec      *qr.Codec
	trainer    Trainer
	hub        *Hub
	log        *logrus.Entry
	http       *http.Server
}

// New assembles the server. The session manager's mark notifications
// are routed into the WebSocket hub here.
func New(cfg *config.Config, sessions *session.Manager, students *store.StudentStore, attendance *store.AttendanceStore, templates *registry.Registry, codec *qr.Codec, trainer Trainer) *Server {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		students:   students,
		attendance: attendance,
		templates:  templates,
		codec:      codec,
		trainer:    trainer,
		hub:        NewHub(),
		log:        logging.Component("server"),
	}
	sessions.OnMarked(s.hub.BroadcastMark)
	return s
}

// Routes builds the gin router. Kiosk endpoints are open; everything
// a faculty member touches requires a bearer token.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/api/login", s.handleLogin)

	// Kiosk surface: anyone at the camera can run a session, the
	// pipeline itself decides whether attendance gets marked.
	r.POST("/api/sessions", s.handleStartSession)
	r.POST("/api/sessions/:id/frame", s.handleSessionFrame)
	r.POST("/api/sessions/:id/mark", s.handleSessionMark)
	r.POST("/api/sessions/:id/reset", s.handleSessionReset)
	r.DELETE("/api/sessions/:id", s.handleEndSession)

	r.GET("/ws", func(c *gin.Context) {
		s.hub.serveWS(c.Writer, c.Request)
	})

	r.Static("/qr_codes", s.cfg.Storage.QRCodesDir)

	api := r.Group("/api", s.authRequired())
	{
		api.GET("/students", s.handleListStudents)
		api.POST("/students", s.handleRegisterStudent)
		api.GET("/students/:roll", s.handleGetStudent)
		api.DELETE("/students/:roll", s.handleDeleteStudent)
		api.POST("/students/:roll/qr", s.handleRegenerateQR)
		api.POST("/students/:roll/train", s.handleTrainStudent)

		api.GET("/dashboard", s.handleDashboard)
		api.GET("/attendance", s.handleAttendanceReport)
		api.DELETE("/attendance/:timestamp", s.handleDeleteAttendance)
		api.POST("/attendance/export", s.handleExportAttendance)
	}

	return r
}

// Run starts the hub, the session sweeper and the HTTP listener, and
// blocks until the listener stops.
func (s *Server) Run() error {
	go s.hub.Run()
	s.sessions.Start()

	s.http = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.WithField("addr", s.cfg.Server.Addr).Info("Attendance service listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, the sweeper and the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Stop()
	s.hub.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logging.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("Request handled")
	}
}
