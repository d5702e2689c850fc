package log

import "context"

// Logger defines a standard interface for logging.
// Library packages log through the global zerolog logger; this interface is
// what the CLI and other embedders wire their own sink into.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	With(fields map[string]interface{}) Logger // Returns a new logger with added structured fields
}

// nopLogger discards everything. Useful as a default in tests.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all output.
//
//nolint:ireturn
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, string, error, ...map[string]interface{}) {}
func (n nopLogger) With(map[string]interface{}) Logger                            { return n }
