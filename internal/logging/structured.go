// Package logging provides structured logging for rawrsync components.
package logging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/joss/rawrsync/internal/config"
)

var (
	base   = zap.NewNop()
	baseMu sync.RWMutex
)

// Init builds the process logger from cfg and installs it as the base for New.
// The returned func flushes and closes the file sink.
func Init(cfg config.LogConfig) (func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "event",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := config.EnsureDir(cfg.File); err != nil {
			return nil, err
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}
	if cfg.Console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleConfig.CallerKey = ""
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	SetBase(logger)

	return func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}, nil
}

// SetBase replaces the base logger (tests install an observer here).
func SetBase(l *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = l
}

func getBase() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logger provides structured logging scoped to a component
type Logger struct {
	z         *zap.Logger
	component string
	worker    string
	run       string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{
		z:         getBase().Named(component),
		component: component,
	}
}

// WithWorker sets the worker context
func (l *Logger) WithWorker(worker string) *Logger {
	return &Logger{
		z:         l.z.With(zap.String("worker", worker)),
		component: l.component,
		worker:    worker,
		run:       l.run,
	}
}

// WithRun sets the run context
func (l *Logger) WithRun(runID string) *Logger {
	if runID == "" {
		return l
	}
	return &Logger{
		z:         l.z.With(zap.String("run", runID)),
		component: l.component,
		worker:    l.worker,
		run:       runID,
	}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

func fields(extra map[string]any, err error) []zap.Field {
	fs := make([]zap.Field, 0, len(extra)+1)
	for k, v := range extra {
		fs = append(fs, zap.Any(k, v))
	}
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	return fs
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]any) {
	l.z.Debug(event, fields(extra, nil)...)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]any) {
	l.z.Info(event, fields(extra, nil)...)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.z.Warn(event, fields(extra, err)...)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.z.Error(event, fields(extra, err)...)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any) {
	fs := fields(extra, nil)
	fs = append(fs, zap.Duration("duration", time.Since(start)))
	l.z.Info(event, fs...)
}
