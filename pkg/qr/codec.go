// Package qr encodes student identities into scannable QR codes at
// enrollment time and decodes them back out of camera frames at
// attendance time.
package qr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrgen "github.com/skip2/go-qrcode"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
)

// Payload is the JSON document embedded in a student QR code.
type Payload struct {
	RollNumber string `json:"roll_number"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
	UniqueID   string `json:"unique_id"`
}

// ErrBadFrame is returned when the frame bytes cannot be decoded as an image.
var ErrBadFrame = fmt.Errorf("unreadable frame payload")

// Codec generates and scans student QR codes.
type Codec struct {
	qrDir string
}

// NewCodec creates a codec writing generated images into qrDir.
func NewCodec(qrDir string) *Codec {
	return &Codec{qrDir: qrDir}
}

// Encode renders the payload as a PNG QR code. High error correction so
// codes survive being scanned off a phone screen.
func (c *Codec) Encode(p Payload) ([]byte, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal QR payload: %w", err)
	}

	png, err := qrgen.Encode(string(content), qrgen.High, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return png, nil
}

// GenerateForStudent encodes the student's identity, writes
// qr_<roll>_<uid>.png into the codec's directory, and returns the
// written path and the generated payload.
func (c *Codec) GenerateForStudent(rollNumber, name, branch string) (string, *Payload, error) {
	p := Payload{
		RollNumber: rollNumber,
		Name:       name,
		Branch:     branch,
		UniqueID:   strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}

	png, err := c.Encode(p)
	if err != nil {
		return "", nil, err
	}

	if err := os.MkdirAll(c.qrDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create QR directory: %w", err)
	}

	filename := fmt.Sprintf("qr_%s_%s.png", rollNumber, p.UniqueID)
	path := filepath.Join(c.qrDir, filename)
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write QR code: %w", err)
	}

	logging.Infof("Generated QR code for %s at %s", rollNumber, path)
	return path, &p, nil
}

// Decode scans a frame for a QR code and returns its payload. A frame
// with no readable QR code returns (nil, nil): that is a normal
// not-yet condition, not an error. Only an undecodable frame payload is
// a hard failure.
func (c *Codec) Decode(frameData []byte) (*Payload, error) {
	img, _, err := image.Decode(bytes.NewReader(frameData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return c.DecodeImage(img)
}

// DecodeImage is Decode for an already-decoded raster.
func (c *Codec) DecodeImage(img image.Image) (*Payload, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	// Readers keep decode state, so use a fresh one per frame.
	result, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		// No QR code in this frame; try again on the next one.
		return nil, nil
	}

	var p Payload
	if err := json.Unmarshal([]byte(result.GetText()), &p); err != nil {
		logging.Debugf("Scanned QR with non-payload content: %v", err)
		return nil, nil
	}
	if p.RollNumber == "" {
		return nil, nil
	}

	return &p, nil
}
