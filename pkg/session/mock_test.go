package session

import (
	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/qr"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

type MockFrameEngine struct {
	DetectFaceFunc         func(frame engine.Frame) (*engine.Detection, error)
	DetectEyesAndBlinkFunc func(frame engine.Frame, det engine.Detection, state engine.BlinkState) ([]engine.EyeRegion, bool, engine.BlinkState, error)
	RecognizeFunc          func(det engine.Detection, reg *registry.Registry) *engine.Match
}

func (m *MockFrameEngine) DetectFace(frame engine.Frame) (*engine.Detection, error) {
	if m.DetectFaceFunc != nil {
		return m.DetectFaceFunc(frame)
	}
	return nil, nil
}

func (m *MockFrameEngine) DetectEyesAndBlink(frame engine.Frame, det engine.Detection, state engine.BlinkState) ([]engine.EyeRegion, bool, engine.BlinkState, error) {
	if m.DetectEyesAndBlinkFunc != nil {
		return m.DetectEyesAndBlinkFunc(frame, det, state)
	}
	return nil, false, state, nil
}

func (m *MockFrameEngine) Recognize(det engine.Detection, reg *registry.Registry) *engine.Match {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(det, reg)
	}
	return nil
}

type MockQRDecoder struct {
	DecodeFunc func(data []byte) (*qr.Payload, error)
}

func (m *MockQRDecoder) Decode(data []byte) (*qr.Payload, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(data)
	}
	return nil, nil
}

type MockStudentDirectory struct {
	GetFunc    func(rollNumber string) (*store.StudentRecord, error)
	ExistsFunc func(rollNumber string) bool
}

func (m *MockStudentDirectory) Get(rollNumber string) (*store.StudentRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(rollNumber)
	}
	return nil, store.ErrStudentNotFound
}

func (m *MockStudentDirectory) Exists(rollNumber string) bool {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(rollNumber)
	}
	return false
}

type MockAttendanceLog struct {
	AppendFunc         func(rollNumber, name, branch string) (*store.AttendanceRecord, error)
	HasMarkedTodayFunc func(rollNumber string) (bool, error)
}

func (m *MockAttendanceLog) Append(rollNumber, name, branch string) (*store.AttendanceRecord, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(rollNumber, name, branch)
	}
	return &store.AttendanceRecord{RollNumber: rollNumber, Name: name, Branch: branch}, nil
}

func (m *MockAttendanceLog) HasMarkedToday(rollNumber string) (bool, error) {
	if m.HasMarkedTodayFunc != nil {
		return m.HasMarkedTodayFunc(rollNumber)
	}
	return false, nil
}
