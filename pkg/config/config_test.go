package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Recognition.Tolerance != 0.6 {
		t.Errorf("expected tolerance 0.6, got %f", cfg.Recognition.Tolerance)
	}
	if cfg.Recognition.ImagesPerStudent != 3 {
		t.Errorf("expected 3 images per student, got %d", cfg.Recognition.ImagesPerStudent)
	}
	if cfg.Liveness.EyeClosedThreshold != 0.25 {
		t.Errorf("expected eye closed threshold 0.25, got %f", cfg.Liveness.EyeClosedThreshold)
	}
	if cfg.Liveness.ConsecutiveFrames != 2 {
		t.Errorf("expected 2 consecutive frames, got %d", cfg.Liveness.ConsecutiveFrames)
	}
	if cfg.Session.IdleTimeout != 60*time.Second {
		t.Errorf("expected 60s idle timeout, got %s", cfg.Session.IdleTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Logging.Level)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "attendance.yaml")

	content := `
server:
  addr: ":8080"
recognition:
  tolerance: 0.45
  images_per_student: 5
liveness:
  eye_closed_threshold: 0.2
  consecutive_frames: 3
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Recognition.Tolerance != 0.45 {
		t.Errorf("expected tolerance 0.45, got %f", cfg.Recognition.Tolerance)
	}
	if cfg.Recognition.ImagesPerStudent != 5 {
		t.Errorf("expected 5 images per student, got %d", cfg.Recognition.ImagesPerStudent)
	}
	if cfg.Liveness.ConsecutiveFrames != 3 {
		t.Errorf("expected 3 consecutive frames, got %d", cfg.Liveness.ConsecutiveFrames)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.Logging.Level)
	}

	// Unspecified fields keep their defaults.
	if cfg.Session.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle timeout, got %s", cfg.Session.IdleTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/attendance.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
	if cfg == nil {
		t.Error("expected defaults to be returned even on error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero tolerance",
			mutate:  func(c *Config) { c.Recognition.Tolerance = 0 },
			wantErr: true,
		},
		{
			name:    "tolerance above one",
			mutate:  func(c *Config) { c.Recognition.Tolerance = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero images per student",
			mutate:  func(c *Config) { c.Recognition.ImagesPerStudent = 0 },
			wantErr: true,
		},
		{
			name:    "zero consecutive frames",
			mutate:  func(c *Config) { c.Liveness.ConsecutiveFrames = 0 },
			wantErr: true,
		},
		{
			name:    "eye threshold out of range",
			mutate:  func(c *Config) { c.Liveness.EyeClosedThreshold = 1.0 },
			wantErr: true,
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *Config) { c.Session.IdleTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "empty jwt secret",
			mutate:  func(c *Config) { c.Server.JWTSecret = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.QRCodesDir = filepath.Join(tmpDir, "static", "qr_codes")
	cfg.Storage.TrainingImagesDir = filepath.Join(tmpDir, "data", "training_images")
	cfg.Recognition.ModelPath = filepath.Join(tmpDir, "data", "models")
	cfg.Logging.File = filepath.Join(tmpDir, "logs", "attendance.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{
		cfg.Storage.DataDir,
		cfg.Storage.QRCodesDir,
		cfg.Storage.TrainingImagesDir,
		cfg.Recognition.ModelPath,
		filepath.Join(tmpDir, "logs"),
	} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory %s was not created", dir)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got := ExpandPath("~/attendance/data")
	want := filepath.Join(home, "attendance/data")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTrainingImageDir(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.TrainingImageDir("21CS101")
	want := filepath.Join(cfg.Storage.TrainingImagesDir, "21CS101")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
