// Package logging wraps zap.Logger with provider-core specific
// structured-field helpers. Adapted from the iaros-core logging
// package, narrowed to the fields this service actually emits
// (vendor/operation/activation instead of user/transaction).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with provider-core fields.
type Logger struct {
	*zap.Logger
	serviceName string
	environment string
}

// Config holds construction options for a Logger.
type Config struct {
	Level       string
	ServiceName string
	Environment string
	Format      string // "json" or "console"
}

// New creates a Logger for serviceName using sane production defaults,
// overridable via Config.
func New(serviceName string, cfg Config) *Logger {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Environment == "" {
		cfg.Environment = getEnv("APP_ENV", "development")
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	base := zap.New(core, zap.AddCaller()).With(
		zap.String("service", serviceName),
		zap.String("environment", cfg.Environment),
	)

	return &Logger{Logger: base, serviceName: serviceName, environment: cfg.Environment}
}

func (l *Logger) with(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), serviceName: l.serviceName, environment: l.environment}
}

// WithVendor scopes the logger to a vendor slug.
func (l *Logger) WithVendor(vendor string) *Logger {
	return l.with(zap.String("vendor", vendor))
}

// WithOp scopes the logger to a logical adapter operation name.
func (l *Logger) WithOp(op string) *Logger {
	return l.with(zap.String("op", op))
}

// WithActivation scopes the logger to an activation ID.
func (l *Logger) WithActivation(activationID string) *Logger {
	return l.with(zap.String("activation_id", activationID))
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.with(zap.Error(err))
}

// ExternalCallLogger logs a single outbound vendor HTTP call.
func (l *Logger) ExternalCallLogger(vendor, op, url string, statusCode int, durationMs int64, success bool) {
	level := l.Info
	if !success {
		level = l.Warn
	}
	level("vendor call",
		zap.String("vendor", vendor),
		zap.String("op", op),
		zap.String("url", url),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
		zap.Bool("success", success),
	)
}

// SyncEventLogger logs a catalog-sync lifecycle event.
func (l *Logger) SyncEventLogger(vendor, phase string, fields map[string]interface{}) {
	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf, zap.String("vendor", vendor), zap.String("phase", phase))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	l.Info("sync event", zf...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
