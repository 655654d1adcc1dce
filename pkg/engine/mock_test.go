package engine

type MockDetector struct {
	DetectFaceFunc func(frame Frame) (*Detection, error)
	DetectEyesFunc func(frame Frame, region FaceRegion) ([]EyeRegion, error)
	CloseFunc      func() error
}

func (m *MockDetector) DetectFace(frame Frame) (*Detection, error) {
	if m.DetectFaceFunc != nil {
		return m.DetectFaceFunc(frame)
	}
	return nil, nil
}

func (m *MockDetector) DetectEyes(frame Frame, region FaceRegion) ([]EyeRegion, error) {
	if m.DetectEyesFunc != nil {
		return m.DetectEyesFunc(frame, region)
	}
	return nil, nil
}

func (m *MockDetector) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
