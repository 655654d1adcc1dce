package engine

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/Kagami/go-face"
	"gocv.io/x/gocv"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
)

// DlibDetector is the production Detector. Face boxes and descriptors
// come from dlib via go-face; eye regions come from an OpenCV Haar
// cascade run inside the face box. Neither library is safe for
// concurrent calls, so all detection runs under one mutex.
type DlibDetector struct {
	mu   sync.Mutex
	rec  *face.Recognizer
	eyes gocv.CascadeClassifier
}

// NewDlibDetector loads the dlib models from modelPath and the eye
// cascade from eyeCascadePath.
func NewDlibDetector(modelPath, eyeCascadePath string) (*DlibDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, modelPath)
	}

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	eyes := gocv.NewCascadeClassifier()
	if !eyes.Load(eyeCascadePath) {
		rec.Close()
		eyes.Close()
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, eyeCascadePath)
	}

	logging.Component("detector").WithField("models", modelPath).Info("Detection models loaded")
	return &DlibDetector{rec: rec, eyes: eyes}, nil
}

// DetectFace returns the largest face in the frame with its
// descriptor already computed, or (nil, nil) when the frame holds no
// face.
func (d *DlibDetector) DetectFace(frame Frame) (*Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	faces, err := d.rec.Recognize(frame.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if area(f.Rectangle) > area(best.Rectangle) {
			best = f
		}
	}

	return &Detection{
		Region: FaceRegion{
			X:      best.Rectangle.Min.X,
			Y:      best.Rectangle.Min.Y,
			Width:  best.Rectangle.Dx(),
			Height: best.Rectangle.Dy(),
		},
		Descriptor: registry.Descriptor(best.Descriptor),
	}, nil
}

// DetectEyes runs the Haar cascade inside the face region. The
// cascade only fires on open eyes, so a closed-eyes frame typically
// reports fewer than two regions. Openness is estimated from the box
// aspect ratio: an open eye box is roughly square, a squinting one is
// wide and shallow.
func (d *DlibDetector) DetectEyes(frame Frame, region FaceRegion) ([]EyeRegion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrBadFrame
	}

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	roi := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Intersect(bounds)
	if roi.Empty() {
		return nil, nil
	}

	faceMat := img.Region(roi)
	defer faceMat.Close()

	rects := d.eyes.DetectMultiScaleWithParams(faceMat, 1.2, 3, 0, image.Pt(20, 20), image.Pt(0, 0))

	regions := make([]EyeRegion, 0, len(rects))
	for _, r := range rects {
		// Eyes sit in the upper half of the face; cascade hits below
		// that are nostrils or mouth corners.
		if r.Min.Y > roi.Dy()/2 {
			continue
		}
		regions = append(regions, EyeRegion{
			X:        roi.Min.X + r.Min.X,
			Y:        roi.Min.Y + r.Min.Y,
			Width:    r.Dx(),
			Height:   r.Dy(),
			Openness: opennessRatio(r.Dx(), r.Dy()),
		})
	}
	return regions, nil
}

// Close releases the native models.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Close()
	return d.eyes.Close()
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// opennessRatio maps an eye box to an openness estimate, half the
// height-to-width ratio clamped to [0, 1].
func opennessRatio(w, h int) float64 {
	if w <= 0 {
		return 0
	}
	ratio := float64(h) / (2 * float64(w))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
