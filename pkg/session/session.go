// Package session drives the attendance pipeline: each camera client
// holds one session that advances QR scan -> blink -> face match ->
// mark. The package owns the ordering guarantees; the engine and
// stores only answer questions about a single frame or record.
package session

import (
	"sync"
	"time"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

// Stage is a session's position in the attendance pipeline. Stages
// only ever advance or reset to the start; there is no skipping.
type Stage int

const (
	StageAwaitingQR Stage = iota
	StageAwaitingBlink
	StageAwaitingFace
	StageReadyToMark
	StageMarked
)

var stageNames = map[Stage]string{
	StageAwaitingQR:    "AWAITING_QR",
	StageAwaitingBlink: "AWAITING_BLINK",
	StageAwaitingFace:  "AWAITING_FACE",
	StageReadyToMark:   "READY_TO_MARK",
	StageMarked:        "MARKED",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Status describes the outcome of processing one frame or action.
// Most statuses are transient ("keep sending frames"); UNKNOWN_QR_CODE,
// IDENTITY_MISMATCH and ALREADY_MARKED are policy rejections.
type Status string

const (
	StatusNoQRCode         Status = "NO_QR_CODE"
	StatusUnknownQRCode    Status = "UNKNOWN_QR_CODE"
	StatusQRAccepted       Status = "QR_ACCEPTED"
	StatusNoFace           Status = "NO_FACE"
	StatusAwaitingBlink    Status = "AWAITING_BLINK"
	StatusBlinkDetected    Status = "BLINK_DETECTED"
	StatusNoMatch          Status = "NO_MATCH"
	StatusIdentityMismatch Status = "IDENTITY_MISMATCH"
	StatusReadyToMark      Status = "READY_TO_MARK"
	StatusAlreadyMarked    Status = "ALREADY_MARKED"
	StatusMarked           Status = "MARKED"
	StatusReset            Status = "RESET"
)

var statusMessages = map[Status]string{
	StatusNoQRCode:         "Show your QR code to the camera",
	StatusUnknownQRCode:    "QR code not recognized, please use your issued code",
	StatusQRAccepted:       "QR code accepted, blink to continue",
	StatusNoFace:           "No face visible, look at the camera",
	StatusAwaitingBlink:    "Blink to confirm you are live",
	StatusBlinkDetected:    "Blink detected, hold still for recognition",
	StatusNoMatch:          "Face not recognized, adjust lighting and try again",
	StatusIdentityMismatch: "Face does not match the scanned QR code",
	StatusReadyToMark:      "Identity confirmed, ready to mark attendance",
	StatusAlreadyMarked:    "Attendance already marked today",
	StatusMarked:           "Attendance marked",
	StatusReset:            "Session restarted",
}

// Message returns the operator-facing text for the status.
func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return string(s)
}

// Result is what a client gets back for every frame or action. Face
// and Eyes carry overlay geometry for the capture UI.
type Result struct {
	SessionID  string             `json:"session_id"`
	Stage      string             `json:"stage"`
	Status     Status             `json:"status"`
	Message    string             `json:"message"`
	RollNumber string             `json:"roll_number,omitempty"`
	Name       string             `json:"name,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Face       *engine.FaceRegion `json:"face,omitempty"`
	Eyes       []engine.EyeRegion `json:"eyes,omitempty"`
}

// Session is one client's pipeline run. All frame processing for a
// session happens under its mutex, so frames from one client are
// strictly ordered even if the transport delivers them concurrently.
type Session struct {
	ID string

	mu           sync.Mutex
	stage        Stage
	declared     *store.StudentRecord
	blink        engine.BlinkState
	matchedID    string
	confidence   float64
	startedAt    time.Time
	lastActivity time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		stage:        StageAwaitingQR,
		startedAt:    now,
		lastActivity: now,
	}
}

// Stage returns the session's current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Student returns the declared identity, nil before a QR is accepted.
func (s *Session) Student() *store.StudentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.declared
}

// reset drops all progress back to the QR stage. Caller holds s.mu.
func (s *Session) reset() {
	s.stage = StageAwaitingQR
	s.declared = nil
	s.blink = engine.BlinkState{}
	s.matchedID = ""
	s.confidence = 0
}

func (s *Session) result(status Status) *Result {
	r := &Result{
		SessionID: s.ID,
		Stage:     s.stage.String(),
		Status:    status,
		Message:   status.Message(),
	}
	if s.declared != nil {
		r.RollNumber = s.declared.RollNumber
		r.Name = s.declared.Name
	}
	if s.confidence > 0 {
		r.Confidence = s.confidence
	}
	return r
}
