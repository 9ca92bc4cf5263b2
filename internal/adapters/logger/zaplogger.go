package logger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"klineKit/internal/ports"
)

// ZapLogger implements ports.Logger on top of a zap.Logger.
type ZapLogger struct {
	zl *zap.Logger
}

// NewZapLogger builds a JSON production logger at the given level.
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(strings.ToLower(level.String()))
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)

	zl, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return &ZapLogger{zl: zl}, nil
}

// WrapZap adapts an existing zap.Logger.
func WrapZap(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.zl.Sync()
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.zl.Error(msg, zf...)
}

func toZapFields(fields []map[string]interface{}) []zap.Field {
	merged := mergeFields(fields)
	if len(merged) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(merged))
	for k, v := range merged {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// New returns the logger selected by format: "json" gives zap, anything else the standard logger.
func New(format string, level LogLevel) (ports.Logger, error) {
	if strings.EqualFold(format, "json") {
		zl, err := NewZapLogger(level)
		if err != nil {
			return nil, err
		}
		return zl, nil
	}
	return NewStdLogger(level), nil
}
