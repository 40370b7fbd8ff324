package audit

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the rotating audit file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig returns rotation settings suitable for production.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Path:       "logs/cache-audit.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// FileSink writes each record as one JSON line to a size-rotated file.
// Retention is left to lumberjack's MaxBackups/MaxAge; the cache never
// rewrites records.
type FileSink struct {
	rotator *lumberjack.Logger
	logger  *zap.Logger

	closeOnce sync.Once
}

// NewFileSink opens (or creates) the audit file described by cfg.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit: file path is required")
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "logged_at",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// audit lines are always written, independent of the app log level
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &FileSink{
		rotator: rotator,
		logger:  zap.New(core),
	}, nil
}

func (s *FileSink) Record(rec Record) {
	s.logger.Info("cache_audit", recordFields(rec)...)
}

// Sync flushes buffered lines to disk.
func (s *FileSink) Sync() error {
	return s.logger.Sync()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.logger.Sync()
		err = s.rotator.Close()
	})
	return err
}

// LoggerSink writes records to an application logger. Useful in development
// when no dedicated audit file is configured.
func LoggerSink(logger *zap.Logger) Sink {
	if logger == nil {
		return Nop
	}
	l := logger.Named("audit")
	return SinkFunc(func(rec Record) {
		l.Info("cache_audit", recordFields(rec)...)
	})
}

func recordFields(rec Record) []zap.Field {
	fields := []zap.Field{
		zap.Time("timestamp", rec.Timestamp),
		zap.String("cache", rec.Cache),
		zap.String("action", string(rec.Action)),
	}
	if rec.Key != "" {
		fields = append(fields, zap.String("key", rec.Key))
	}
	if rec.PatientID != "" {
		fields = append(fields, zap.String("patient_id", rec.PatientID))
	}
	return fields
}
