// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level and encoding; empty fields fall back to the environment.
type Options struct {
	Service string
	Env     string
	Level   string // debug|info|warn|error
	Format  string // json|console
}

// New builds a zap logger with environment-aware defaults: production
// environments log JSON at info, everything else logs console at debug.
func New(opts Options) (*zap.Logger, error) {
	env := opts.Env
	if env == "" {
		env = EnvironmentName()
	}

	level, err := parseLevel(firstNonEmpty(opts.Level, os.Getenv("LOG_LEVEL"), defaultLevel(env)))
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(firstNonEmpty(opts.Format, os.Getenv("LOG_FORMAT"), defaultFormat(env)))

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.LevelKey = "severity"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	fields := []zap.Field{zap.String("env", env)}
	if service := strings.TrimSpace(opts.Service); service != "" {
		fields = append(fields, zap.String("service", service))
	}
	return logger.With(fields...), nil
}

// EnvironmentName returns the detected runtime environment (development/production/etc).
func EnvironmentName() string {
	for _, key := range []string{"ENV", "GO_ENV", "ENVIRONMENT", "APP_ENV"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "development"
}

func isProduction(env string) bool {
	env = strings.ToLower(env)
	return strings.HasPrefix(env, "prod")
}

func defaultLevel(env string) string {
	if isProduction(env) {
		return "info"
	}
	return "debug"
}

func defaultFormat(env string) string {
	if isProduction(env) {
		return "json"
	}
	return "console"
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level %q", raw)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
