// Package engine implements face detection, eye-blink liveness and
// face recognition on top of dlib descriptors and an OpenCV eye
// cascade. The engine itself is model-agnostic: detection runs behind
// the Detector interface so tests exercise the full pipeline without
// native models.
package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
)

var (
	// ErrModelNotLoaded is returned when the underlying models are not
	// available, typically a missing dlib data directory or cascade file.
	ErrModelNotLoaded = errors.New("engine: model not loaded")

	// ErrInsufficientSamples is returned by Train when fewer than the
	// required number of frames contain a usable face.
	ErrInsufficientSamples = errors.New("engine: insufficient face samples")

	// ErrBadFrame is returned when frame data cannot be decoded as an image.
	ErrBadFrame = errors.New("engine: bad frame data")
)

// Frame is a single image submitted by a client, in encoded form
// (JPEG or PNG) exactly as it came off the wire.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// FaceRegion is a face bounding box in frame coordinates.
type FaceRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EyeRegion is a detected eye with an openness estimate in [0, 1].
type EyeRegion struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Openness float64 `json:"openness"`
}

// Detection couples a face region with its descriptor so recognition
// never recomputes the descriptor for a region it already measured.
type Detection struct {
	Region     FaceRegion
	Descriptor registry.Descriptor
}

// Match is a successful recognition against the template registry.
type Match struct {
	StudentID  string
	Name       string
	Distance   float64
	Confidence float64
}

// Detector produces detections from raw frames. DetectFace returns
// (nil, nil) when the frame contains no face; DetectEyes returns the
// eyes found inside a face region, possibly none.
type Detector interface {
	DetectFace(frame Frame) (*Detection, error)
	DetectEyes(frame Frame, region FaceRegion) ([]EyeRegion, error)
	Close() error
}

// Config holds the engine thresholds.
type Config struct {
	// Tolerance is the maximum descriptor distance for a match.
	Tolerance float64

	// MinFaceSize is the minimum face box edge in pixels. Smaller
	// detections are treated as no face.
	MinFaceSize int

	// EyeClosedThreshold is the mean openness below which a frame
	// counts as eyes closed.
	EyeClosedThreshold float64

	// BlinkConsecFrames is the number of consecutive closed frames
	// required before an open frame completes a blink.
	BlinkConsecFrames int

	// ImagesPerStudent is the number of usable face samples required
	// to train a template.
	ImagesPerStudent int
}

// Engine runs the liveness and recognition pipeline.
type Engine struct {
	detector Detector
	cfg      Config
	log      *logrus.Entry
}

// New creates an engine around the given detector.
func New(detector Detector, cfg Config) *Engine {
	return &Engine{
		detector: detector,
		cfg:      cfg,
		log:      logging.Component("engine"),
	}
}

// Close releases the detector's native resources.
func (e *Engine) Close() error {
	return e.detector.Close()
}

// DetectFace finds the dominant face in the frame. Faces smaller than
// MinFaceSize on either edge are discarded, so distant bystanders do
// not drive the pipeline. Returns (nil, nil) when no usable face is
// present.
func (e *Engine) DetectFace(frame Frame) (*Detection, error) {
	det, err := e.detector.DetectFace(frame)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return nil, nil
	}
	if det.Region.Width < e.cfg.MinFaceSize || det.Region.Height < e.cfg.MinFaceSize {
		e.log.WithField("width", det.Region.Width).Debug("Face below minimum size, ignoring")
		return nil, nil
	}
	return det, nil
}

// DetectEyesAndBlink classifies the frame as eyes open or closed and
// advances the blink state. A frame counts as closed when fewer than
// two eyes are visible or the mean openness falls below the closed
// threshold. The returned bool reports whether this frame completed a
// blink.
func (e *Engine) DetectEyesAndBlink(frame Frame, det Detection, state BlinkState) ([]EyeRegion, bool, BlinkState, error) {
	eyes, err := e.detector.DetectEyes(frame, det.Region)
	if err != nil {
		return nil, false, state, err
	}

	closed := len(eyes) < 2
	if !closed {
		var sum float64
		for _, eye := range eyes {
			sum += eye.Openness
		}
		closed = sum/float64(len(eyes)) < e.cfg.EyeClosedThreshold
	}

	next, blinked := state.Observe(closed, e.cfg.BlinkConsecFrames)
	if blinked {
		e.log.WithField("closed_frames", state.ClosedFrames).Debug("Blink completed")
	}
	return eyes, blinked, next, nil
}

// Recognize scans the template registry for the closest descriptor and
// returns a match when the distance is strictly below the tolerance.
// Templates are scanned in registration order, so on an exact tie the
// earliest-registered student wins. Returns nil when nothing matches.
func (e *Engine) Recognize(det Detection, reg *registry.Registry) *Match {
	var (
		best     *registry.FaceTemplate
		bestDist = math.MaxFloat64
	)
	for _, tpl := range reg.Snapshot() {
		d := EuclideanDistance(det.Descriptor, tpl.Descriptor)
		if d < bestDist {
			bestDist = d
			t := tpl
			best = &t
		}
	}

	if best == nil || bestDist >= e.cfg.Tolerance {
		return nil
	}

	confidence := 1.0 - bestDist
	if confidence < 0 {
		confidence = 0
	}
	e.log.WithFields(logging.Fields{
		"student_id": best.StudentID,
		"distance":   fmt.Sprintf("%.4f", bestDist),
	}).Debug("Face matched")

	return &Match{
		StudentID:  best.StudentID,
		Name:       best.Name,
		Distance:   bestDist,
		Confidence: confidence,
	}
}

// Train builds a face template for a student from capture frames and
// stores it in the registry, replacing any previous template. Frames
// without a usable face are skipped; at least ImagesPerStudent usable
// samples are required. The stored descriptor is the per-dimension
// mean of the sample descriptors, which smooths pose and lighting
// variation across captures.
func (e *Engine) Train(studentID, name string, frames []Frame, reg *registry.Registry) (*registry.FaceTemplate, error) {
	if len(frames) < e.cfg.ImagesPerStudent {
		return nil, fmt.Errorf("%w: got %d frames, need %d", ErrInsufficientSamples, len(frames), e.cfg.ImagesPerStudent)
	}

	var samples []registry.Descriptor
	for _, frame := range frames {
		det, err := e.DetectFace(frame)
		if err != nil {
			return nil, fmt.Errorf("training capture: %w", err)
		}
		if det == nil {
			continue
		}
		samples = append(samples, det.Descriptor)
	}

	if len(samples) < e.cfg.ImagesPerStudent {
		return nil, fmt.Errorf("%w: %d of %d frames had a usable face, need %d",
			ErrInsufficientSamples, len(samples), len(frames), e.cfg.ImagesPerStudent)
	}

	tpl := registry.FaceTemplate{
		StudentID:    studentID,
		Name:         name,
		Descriptor:   AverageDescriptor(samples),
		CaptureCount: len(samples),
		TrainedAt:    time.Now(),
	}
	if err := reg.Replace(tpl); err != nil {
		return nil, fmt.Errorf("storing template: %w", err)
	}

	e.log.WithFields(logging.Fields{
		"student_id": studentID,
		"samples":    len(samples),
	}).Info("Face template trained")
	return &tpl, nil
}

// EuclideanDistance computes the L2 distance between two descriptors.
func EuclideanDistance(a, b registry.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// AverageDescriptor computes the per-dimension mean of descriptors.
func AverageDescriptor(samples []registry.Descriptor) registry.Descriptor {
	var avg registry.Descriptor
	if len(samples) == 0 {
		return avg
	}
	for i := range avg {
		var sum float64
		for _, s := range samples {
			sum += float64(s[i])
		}
		avg[i] = float32(sum / float64(len(samples)))
	}
	return avg
}
