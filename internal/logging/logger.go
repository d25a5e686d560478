// Package logging builds the zap loggers used across ccc.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/ccc/internal/config"
)

// LogFileName is the file sink name under <stateDir>/logs.
const LogFileName = "ccc.log"

// Logger is a zap logger plus the file sink it may own.
type Logger struct {
	*zap.Logger
	file *os.File
}

// New builds a logger from cfg. Console output goes to w (stderr when nil).
// When cfg.File is set, JSON logs are also appended to
// <stateDir>/logs/ccc.log regardless of the console format.
func New(cfg config.LogConfig, stateDir string, w io.Writer) (*Logger, error) {
	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if w == nil {
		w = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(zapcore.AddSync(w)), level),
	}

	var file *os.File
	if cfg.File && stateDir != "" {
		path := FilePath(stateDir)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		// The file keeps debug detail even when the console is quieter.
		fileLevel := level
		if zapcore.DebugLevel < fileLevel {
			fileLevel = zapcore.DebugLevel
		}
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.Lock(file), fileLevel))
	}

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...)),
		file:   file,
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// FilePath returns the file sink location for stateDir.
func FilePath(stateDir string) string {
	return filepath.Join(stateDir, "logs", LogFileName)
}

// Close flushes buffered entries and closes the file sink.
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LevelFromString parses a level name. An empty string means info.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderCfg)
	}
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderCfg)
}
