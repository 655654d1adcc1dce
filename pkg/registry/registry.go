// Package registry holds the trained face templates. The registry is a
// read-mostly shared resource: recognition scans it on every frame while
// training replaces whole entries under a writer lock. Templates are
// persisted as JSON, optionally encrypted at rest with NaCl secretbox.
package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// DescriptorSize is the dimensionality of a face descriptor.
	DescriptorSize = 128
	// NonceSize is the size of the nonce used for encryption.
	NonceSize = 24
	// KeySize is the size of the encryption key.
	KeySize = 32
)

// Descriptor is a compact numeric face representation used for matching.
type Descriptor [DescriptorSize]float32

// FaceTemplate is the trained template for one student.
type FaceTemplate struct {
	StudentID    string     `json:"student_id"`
	Name         string     `json:"name"`
	Descriptor   Descriptor `json:"descriptor"`
	CaptureCount int        `json:"capture_count"`
	TrainedAt    time.Time  `json:"trained_at"`
}

// ErrTemplateNotFound is returned when no template exists for a student.
var ErrTemplateNotFound = errors.New("template not found")

// ErrCorruptRegistry is returned when the persisted registry cannot be read.
var ErrCorruptRegistry = errors.New("corrupt template registry")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// persisted is the on-disk registry layout. Order carries the insertion
// order so recognition ties stay deterministic across restarts.
type persisted struct {
	Order     []string                `json:"order"`
	Templates map[string]FaceTemplate `json:"templates"`
}

// Registry maps student identifiers to face templates.
type Registry struct {
	path              string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu        sync.RWMutex
	order     []string
	templates map[string]FaceTemplate
}

// New creates a registry persisted at path. With encryption enabled the
// file is sealed with a machine-derived key.
func New(path string, encryptionEnabled bool) (*Registry, error) {
	r := &Registry{
		path:              path,
		encryptionEnabled: encryptionEnabled,
		templates:         make(map[string]FaceTemplate),
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		r.encryptionKey = key
	}

	return r, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the stored templates to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("attendance-templates-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// Load reads the persisted registry. A missing file is an empty registry;
// an unreadable file is a hard failure.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.order = nil
			r.templates = make(map[string]FaceTemplate)
			return nil
		}
		return fmt.Errorf("failed to read template registry: %w", err)
	}

	if r.encryptionEnabled {
		data, err = r.decrypt(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptRegistry, err)
		}
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRegistry, err)
	}
	if p.Templates == nil {
		p.Templates = make(map[string]FaceTemplate)
	}

	// Tolerate order entries whose template is gone, and templates
	// missing from the order list.
	order := p.Order[:0]
	seen := make(map[string]bool, len(p.Order))
	for _, id := range p.Order {
		if _, ok := p.Templates[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for id := range p.Templates {
		if !seen[id] {
			order = append(order, id)
		}
	}

	r.order = order
	r.templates = p.Templates

	logging.Infof("Loaded %d face template(s)", len(r.templates))
	return nil
}

// Get returns the template for a student.
func (r *Registry) Get(studentID string) (*FaceTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[studentID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &tpl, nil
}

// Snapshot returns all templates in insertion order. The slice is a copy;
// callers may iterate without holding any lock.
func (r *Registry) Snapshot() []FaceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FaceTemplate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}

// Len returns the number of stored templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Replace stores the template and persists the registry, replacing any
// prior template for the same student. The prior entry stays servable
// until the new file is fully written; if the write fails the in-memory
// state is rolled back.
func (r *Registry) Replace(tpl FaceTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, hadPrior := r.templates[tpl.StudentID]

	if !hadPrior {
		r.order = append(r.order, tpl.StudentID)
	}
	r.templates[tpl.StudentID] = tpl

	if err := r.save(); err != nil {
		if hadPrior {
			r.templates[tpl.StudentID] = prior
		} else {
			delete(r.templates, tpl.StudentID)
			r.order = r.order[:len(r.order)-1]
		}
		return err
	}

	logging.Infof("Stored face template for %s (%d captures)", tpl.StudentID, tpl.CaptureCount)
	return nil
}

// Remove deletes the template for a student and persists the registry.
// Removing an absent template is a no-op.
func (r *Registry) Remove(studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[studentID]; !ok {
		return nil
	}

	delete(r.templates, studentID)
	for i, id := range r.order {
		if id == studentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return r.save()
}

// save persists the registry atomically. Caller holds the write lock.
func (r *Registry) save() error {
	p := persisted{Order: r.order, Templates: r.templates}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template registry: %w", err)
	}

	if r.encryptionEnabled {
		data, err = r.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt template registry: %w", err)
		}
	}

	// Write-then-rename so readers never observe a partial file.
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write template registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace template registry: %w", err)
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (r *Registry) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &r.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (r *Registry) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &r.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
