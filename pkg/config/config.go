// Package config provides configuration management for the attendance
// service. It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all attendance service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Session     SessionConfig     `yaml:"session"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP transport settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	FacultyUsername string        `yaml:"faculty_username"`
	FacultyPassword string        `yaml:"faculty_password"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	// Tolerance is the maximum descriptor distance accepted as a match.
	Tolerance       float64 `yaml:"tolerance"`
	MinFaceSize     int     `yaml:"min_face_size"`
	ModelPath       string  `yaml:"model_path"`
	EyeCascadePath  string  `yaml:"eye_cascade_path"`
	ImagesPerStudent int    `yaml:"images_per_student"`
}

// LivenessConfig holds blink detection settings.
type LivenessConfig struct {
	// EyeClosedThreshold is the openness metric below which a frame counts
	// as eyes-closed.
	EyeClosedThreshold float64 `yaml:"eye_closed_threshold"`
	// ConsecutiveFrames is the minimum closed-frame run length required
	// before a reopen counts as a blink.
	ConsecutiveFrames int `yaml:"consecutive_frames"`
}

// SessionConfig holds attendance session settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig holds flat-file storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	StudentsCSV       string `yaml:"students_csv"`
	AttendanceCSV     string `yaml:"attendance_csv"`
	TemplatesFile     string `yaml:"templates_file"`
	QRCodesDir        string `yaml:"qr_codes_dir"`
	TrainingImagesDir string `yaml:"training_images_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := "data"
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			FacultyUsername: "Faculty",
			FacultyPassword: "Faculty123",
			JWTSecret:       "change-me-in-production",
			TokenTTL:        8 * time.Hour,
		},
		Recognition: RecognitionConfig{
			Tolerance:        0.6,
			MinFaceSize:      60,
			ModelPath:        filepath.Join(dataDir, "models"),
			EyeCascadePath:   filepath.Join(dataDir, "models", "haarcascade_eye.xml"),
			ImagesPerStudent: 3,
		},
		Liveness: LivenessConfig{
			EyeClosedThreshold: 0.25,
			ConsecutiveFrames:  2,
		},
		Session: SessionConfig{
			IdleTimeout:   60 * time.Second,
			SweepInterval: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			StudentsCSV:       filepath.Join(dataDir, "students.csv"),
			AttendanceCSV:     filepath.Join(dataDir, "attendance.csv"),
			TemplatesFile:     filepath.Join(dataDir, "face_templates.json"),
			QRCodesDir:        filepath.Join("static", "qr_codes"),
			TrainingImagesDir: filepath.Join(dataDir, "training_images"),
			EncryptionEnabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "attendance.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/attendance/attendance.yaml"); err == nil {
		return Load("/etc/attendance/attendance.yaml")
	}

	if _, err := os.Stat("attendance.yaml"); err == nil {
		return Load("attendance.yaml")
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Recognition.EyeCascadePath = ExpandPath(c.Recognition.EyeCascadePath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.StudentsCSV = ExpandPath(c.Storage.StudentsCSV)
	c.Storage.AttendanceCSV = ExpandPath(c.Storage.AttendanceCSV)
	c.Storage.TemplatesFile = ExpandPath(c.Storage.TemplatesFile)
	c.Storage.QRCodesDir = ExpandPath(c.Storage.QRCodesDir)
	c.Storage.TrainingImagesDir = ExpandPath(c.Storage.TrainingImagesDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must not be empty")
	}
	if c.Server.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %s", c.Server.TokenTTL)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.MinFaceSize < 0 {
		return fmt.Errorf("min_face_size must not be negative, got %d", c.Recognition.MinFaceSize)
	}
	if c.Recognition.ImagesPerStudent <= 0 {
		return fmt.Errorf("images_per_student must be positive, got %d", c.Recognition.ImagesPerStudent)
	}

	if c.Liveness.EyeClosedThreshold <= 0 || c.Liveness.EyeClosedThreshold >= 1 {
		return fmt.Errorf("eye_closed_threshold must be in (0, 1), got %f", c.Liveness.EyeClosedThreshold)
	}
	if c.Liveness.ConsecutiveFrames < 1 {
		return fmt.Errorf("consecutive_frames must be at least 1, got %d", c.Liveness.ConsecutiveFrames)
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.Session.IdleTimeout)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// EnsureDirectories creates the directories the service writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.QRCodesDir,
		c.Storage.TrainingImagesDir,
		c.Recognition.ModelPath,
		filepath.Dir(c.Logging.File),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// TrainingImageDir returns the directory holding a student's enrollment images.
func (c *Config) TrainingImageDir(rollNumber string) string {
	return filepath.Join(c.Storage.TrainingImagesDir, rollNumber)
}
