package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zap.Logger with additional functionality
type Logger struct {
	*zap.Logger
}

// Config contains logger configuration
type Config struct {
	Level  string
	Format string // json or console
	File   *FileConfig
}

// FileConfig contains rotating file logging configuration
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json", "":
		encoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if config.File != nil && config.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(config.File.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log folder: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSize,
			MaxAge:     config.File.MaxAge,
			MaxBackups: config.File.MaxBackups,
			Compress:   config.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(productionEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: logger}, nil
}

func productionEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderConfig
}

// WithRunID tags every entry with the id of the current run
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("run_id", runID))}
}

// WithComponent adds a component name to the logger context
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}
