package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/qr"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrNotReady is returned when Mark is called before recognition
	// has confirmed the declared identity.
	ErrNotReady = errors.New("session: not ready to mark")
)

// FrameEngine is the per-frame detection pipeline.
type FrameEngine interface {
	DetectFace(frame engine.Frame) (*engine.Detection, error)
	DetectEyesAndBlink(frame engine.Frame, det engine.Detection, state engine.BlinkState) ([]engine.EyeRegion, bool, engine.BlinkState, error)
	Recognize(det engine.Detection, reg *registry.Registry) *engine.Match
}

// QRDecoder extracts an attendance payload from raw frame data.
type QRDecoder interface {
	Decode(data []byte) (*qr.Payload, error)
}

// StudentDirectory resolves roll numbers to enrolled students.
type StudentDirectory interface {
	Get(rollNumber string) (*store.StudentRecord, error)
	Exists(rollNumber string) bool
}

// AttendanceLog records confirmed attendance.
type AttendanceLog interface {
	Append(rollNumber, name, branch string) (*store.AttendanceRecord, error)
	HasMarkedToday(rollNumber string) (bool, error)
}

// Config holds session lifecycle settings.
type Config struct {
	// IdleTimeout is how long a session may go without frames before
	// it is evicted.
	IdleTimeout time.Duration

	// SweepInterval is how often expired sessions are collected.
	SweepInterval time.Duration
}

// Manager owns all live sessions and dispatches frames to the stage
// each session is in.
type Manager struct {
	engine     FrameEngine
	decoder    QRDecoder
	students   StudentDirectory
	attendance AttendanceLog
	templates  *registry.Registry
	cfg        Config
	log        *logrus.Entry
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	onMarked func(store.AttendanceRecord)

	done     chan struct{}
	stopOnce sync.Once
}

// NewManager wires the pipeline collaborators together.
func NewManager(eng FrameEngine, decoder QRDecoder, students StudentDirectory, attendance AttendanceLog, templates *registry.Registry, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	return &Manager{
		engine:     eng,
		decoder:    decoder,
		students:   students,
		attendance: attendance,
		templates:  templates,
		cfg:        cfg,
		log:        logging.Component("session"),
		now:        time.Now,
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
	}
}

// OnMarked registers a callback invoked after each successful mark,
// used to push live updates to dashboards. Must be set before frames
// start flowing.
func (m *Manager) OnMarked(fn func(store.AttendanceRecord)) {
	m.onMarked = fn
}

// Start launches the background eviction sweeper.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Stop halts the sweeper. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Begin creates a fresh session at the QR stage.
func (m *Manager) Begin() *Result {
	s := newSession(uuid.NewString(), m.now())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.WithField("session_id", s.ID).Debug("Session started")
	return s.result(StatusNoQRCode)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// ProcessFrame runs one frame through whatever stage the session is
// in. Frames for one session are serialized under its lock, so a
// client racing its own uploads still sees stages advance one step at
// a time.
func (m *Manager) ProcessFrame(id string, data []byte) (*Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = m.now()

	switch s.stage {
	case StageAwaitingQR:
		return m.handleQRFrame(s, data)
	case StageAwaitingBlink:
		return m.handleBlinkFrame(s, data)
	case StageAwaitingFace:
		return m.handleFaceFrame(s, data)
	case StageReadyToMark:
		return s.result(StatusReadyToMark), nil
	default:
		return s.result(StatusMarked), nil
	}
}

func (m *Manager) handleQRFrame(s *Session, data []byte) (*Result, error) {
	payload, err := m.decoder.Decode(data)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return s.result(StatusNoQRCode), nil
	}

	rec, err := m.students.Get(payload.RollNumber)
	if err != nil {
		if errors.Is(err, store.ErrStudentNotFound) {
			m.log.WithField("roll_number", payload.RollNumber).Warn("QR code for unenrolled student")
			return s.result(StatusUnknownQRCode), nil
		}
		return nil, err
	}

	s.declared = rec
	s.stage = StageAwaitingBlink
	s.blink = engine.BlinkState{}
	m.log.WithFields(logging.Fields{
		"session_id":  s.ID,
		"roll_number": rec.RollNumber,
	}).Info("QR accepted")
	return s.result(StatusQRAccepted), nil
}

func (m *Manager) handleBlinkFrame(s *Session, data []byte) (*Result, error) {
	frame := engine.Frame{Data: data, Timestamp: m.now()}

	det, err := m.engine.DetectFace(frame)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return s.result(StatusNoFace), nil
	}

	eyes, blinked, next, err := m.engine.DetectEyesAndBlink(frame, *det, s.blink)
	if err != nil {
		return nil, err
	}
	s.blink = next

	status := StatusAwaitingBlink
	if blinked {
		s.stage = StageAwaitingFace
		status = StatusBlinkDetected
		m.log.WithField("session_id", s.ID).Info("Liveness confirmed")
	}

	r := s.result(status)
	r.Face = &det.Region
	r.Eyes = eyes
	return r, nil
}

func (m *Manager) handleFaceFrame(s *Session, data []byte) (*Result, error) {
	frame := engine.Frame{Data: data, Timestamp: m.now()}

	det, err := m.engine.DetectFace(frame)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return s.result(StatusNoFace), nil
	}

	match := m.engine.Recognize(*det, m.templates)
	if match == nil {
		r := s.result(StatusNoMatch)
		r.Face = &det.Region
		return r, nil
	}

	if match.StudentID != s.declared.RollNumber {
		// A stale template for a deleted student is not someone
		// else's face, just noise in the registry.
		if !m.students.Exists(match.StudentID) {
			r := s.result(StatusNoMatch)
			r.Face = &det.Region
			return r, nil
		}
		m.log.WithFields(logging.Fields{
			"session_id": s.ID,
			"declared":   s.declared.RollNumber,
			"matched":    match.StudentID,
		}).Warn("Recognized face does not match scanned QR code")
		r := s.result(StatusIdentityMismatch)
		r.Face = &det.Region
		return r, nil
	}

	s.matchedID = match.StudentID
	s.confidence = match.Confidence
	s.stage = StageReadyToMark
	m.log.WithFields(logging.Fields{
		"session_id":  s.ID,
		"roll_number": match.StudentID,
		"confidence":  fmt.Sprintf("%.3f", match.Confidence),
	}).Info("Identity confirmed")

	status := StatusReadyToMark
	marked, err := m.attendance.HasMarkedToday(s.declared.RollNumber)
	if err != nil {
		m.log.WithError(err).Warn("Could not check today's attendance")
	} else if marked {
		status = StatusAlreadyMarked
	}

	r := s.result(status)
	r.Face = &det.Region
	return r, nil
}

// Mark records attendance for a session whose identity has been
// confirmed. The duplicate check happens inside the attendance log's
// append, so two racing marks for one student yield exactly one row.
func (m *Manager) Mark(id string) (*Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = m.now()

	switch s.stage {
	case StageMarked:
		return s.result(StatusAlreadyMarked), nil
	case StageReadyToMark:
	default:
		return nil, fmt.Errorf("%w: session in stage %s", ErrNotReady, s.stage)
	}

	rec, err := m.attendance.Append(s.declared.RollNumber, s.declared.Name, s.declared.Branch)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			return s.result(StatusAlreadyMarked), nil
		}
		return nil, err
	}

	s.stage = StageMarked
	m.log.WithFields(logging.Fields{
		"roll_number": rec.RollNumber,
		"timestamp":   rec.Timestamp,
	}).Info("Attendance marked")

	if m.onMarked != nil {
		go m.onMarked(*rec)
	}
	return s.result(StatusMarked), nil
}

// Reset drops a session back to the QR stage, discarding all progress.
func (m *Manager) Reset(id string) (*Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = m.now()
	s.reset()

	m.log.WithField("session_id", s.ID).Debug("Session reset")
	return s.result(StatusReset), nil
}

// End removes a session entirely.
func (m *Manager) End(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts sessions idle longer than the timeout. An evicted
// session's ID becomes unknown, so a returning client starts over from
// the QR stage.
func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			m.log.WithField("session_id", id).Debug("Idle session evicted")
		}
	}
}
