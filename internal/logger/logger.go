package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the schemactl logging contract.
// Implementations should support standard log levels and be safe for concurrent use.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ZapLogger wraps a sugared zap logger to implement the schemactl logging contract.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// New creates a console logger writing to w at the given level
// ("debug", "info", "warn" or "error"). Unknown levels fall back to info.
func New(level string, w io.Writer) *ZapLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		ParseLevel(level),
	)
	return &ZapLogger{logger: zap.New(core).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop().Sugar()}
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Info(msg string, args ...any) {
	l.logger.Infof(msg, args...)
}

func (l *ZapLogger) Warn(msg string, args ...any) {
	l.logger.Warnf(msg, args...)
}

func (l *ZapLogger) Error(msg string, args ...any) {
	l.logger.Errorf(msg, args...)
}

func (l *ZapLogger) Debug(msg string, args ...any) {
	l.logger.Debugf(msg, args...)
}

// Sync flushes any buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Default provides a global default logger instance writing to stdout.
var Default Logger = New("info", os.Stdout)
