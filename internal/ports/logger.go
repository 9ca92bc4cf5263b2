package ports

import "context"

// Logger defines a standard interface for logging messages and errors.
// Implementations live in internal/adapters/logger (standard log and zap).
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}

// NopLogger discards everything. Useful for tests and one-shot tools run quietly.
type NopLogger struct{}

func (NopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (NopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (NopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (NopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
