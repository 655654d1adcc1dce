package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ganesh1027/face-recognition-attendance/pkg/config"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/engine"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/logging"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/qr"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/registry"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/server"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/session"
	"github.com/Ganesh1027/face-recognition-attendance/pkg/store"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("attendance v%s\n", version)
		return
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not create data directories: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	logging.Infof("Attendance service v%s starting", version)

	if err := run(cfg); err != nil {
		logging.WithError(err).Error("Service failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	students, err := store.NewStudentStore(cfg.Storage.StudentsCSV)
	if err != nil {
		return fmt.Errorf("opening student store: %w", err)
	}
	attendance, err := store.NewAttendanceStore(cfg.Storage.AttendanceCSV)
	if err != nil {
		return fmt.Errorf("opening attendance store: %w", err)
	}

	templates, err := registry.New(cfg.Storage.TemplatesFile, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("opening template registry: %w", err)
	}
	if err := templates.Load(); err != nil {
		return fmt.Errorf("loading face templates: %w", err)
	}
	logging.Infof("Loaded %d face templates", templates.Len())

	detector, err := engine.NewDlibDetector(cfg.Recognition.ModelPath, cfg.Recognition.EyeCascadePath)
	if err != nil {
		return fmt.Errorf("loading detection models: %w", err)
	}
	defer detector.Close()

	eng := engine.New(detector, engine.Config{
		Tolerance:          cfg.Recognition.Tolerance,
		MinFaceSize:        cfg.Recognition.MinFaceSize,
		EyeClosedThreshold: cfg.Liveness.EyeClosedThreshold,
		BlinkConsecFrames:  cfg.Liveness.ConsecutiveFrames,
		ImagesPerStudent:   cfg.Recognition.ImagesPerStudent,
	})

	codec := qr.NewCodec(cfg.Storage.QRCodesDir)
	sessions := session.NewManager(eng, codec, students, attendance, templates, session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
	})

	srv := server.New(cfg, sessions, students, attendance, templates, codec, eng)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Info("Attendance service stopped")
	return nil
}
