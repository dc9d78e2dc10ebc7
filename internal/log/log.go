// Package log provides the module-scoped logger used across the
// coordinator. It wraps zap behind the key/value calling convention the
// rest of the codebase is written against.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the contextual logger handed to every component. New
// derives a child logger carrying additional key/value context,
// mirroring the istanbul backend's logger.New("state", c.state) idiom.
type Logger interface {
	New(keyvals ...interface{}) Logger
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type zapLogger struct {
	z *zap.SugaredLogger
}

var base *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// NewModuleLogger returns the root logger for a named module, e.g.
// "coordinator", "session", "matchmaker".
func NewModuleLogger(module string) Logger {
	return &zapLogger{z: base.Sugar().With("module", module)}
}

func (l *zapLogger) New(keyvals ...interface{}) Logger {
	return &zapLogger{z: l.z.With(keyvals...)}
}

func (l *zapLogger) Debug(msg string, keyvals ...interface{}) { l.z.Debugw(msg, keyvals...) }
func (l *zapLogger) Info(msg string, keyvals ...interface{})  { l.z.Infow(msg, keyvals...) }
func (l *zapLogger) Warn(msg string, keyvals ...interface{})  { l.z.Warnw(msg, keyvals...) }
func (l *zapLogger) Error(msg string, keyvals ...interface{}) { l.z.Errorw(msg, keyvals...) }
