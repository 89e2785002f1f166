// Package logutil builds the zap loggers used by the stmbench tool.
package logutil

import (
	"os"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogMaxSize = 300 // MB
	defaultLogFormat  = "text"
	defaultLogLevel   = "info"
)

// FileLogConfig serializes file log related config in toml/json.
type FileLogConfig struct {
	// Log filename, leave empty to disable file log.
	Filename string `toml:"filename" json:"filename"`
	// Max size for a single file, in MB.
	MaxSize int `toml:"max-size" json:"max-size"`
	// Max log keep days, default is never deleting.
	MaxDays int `toml:"max-days" json:"max-days"`
	// Maximum number of old log files to retain.
	MaxBackups int `toml:"max-backups" json:"max-backups"`
}

// Config serializes log related config in toml/json.
type Config struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log format. one of json or text.
	Format string `toml:"format" json:"format"`
	// File log config.
	File FileLogConfig `toml:"file" json:"file"`
}

// InitLogger builds a logger writing to stderr, or to a rotated file when
// cfg.File.Filename is set.
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	name := cfg.Level
	if name == "" {
		name = defaultLogLevel
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, errors.Annotatef(err, "invalid log level %q", cfg.Level)
	}

	var output zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		output = zapcore.AddSync(newRotatingFile(&cfg.File))
	} else {
		output = zapcore.Lock(os.Stderr)
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, output, level)
	opts = append([]zap.Option{zap.AddStacktrace(zapcore.FatalLevel)}, opts...)
	return zap.New(core, opts...), nil
}

func newRotatingFile(cfg *FileLogConfig) *lumberjack.Logger {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	switch format {
	case "", defaultLogFormat:
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	case "json":
		return zapcore.NewJSONEncoder(ec), nil
	default:
		return nil, errors.Errorf("unsupported log format %q", format)
	}
}
