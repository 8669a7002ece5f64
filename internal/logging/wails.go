package logging

import (
	"github.com/wailsapp/wails/v2/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WailsLogger routes the desktop shell's log lines into zap.
type WailsLogger struct {
	log *zap.Logger
}

var _ logger.Logger = (*WailsLogger)(nil)

func NewWailsLogger(log *zap.Logger) *WailsLogger {
	return &WailsLogger{log: log.Named("wails").WithOptions(zap.AddCallerSkip(1))}
}

func (w *WailsLogger) Print(message string)   { w.log.Info(message) }
func (w *WailsLogger) Trace(message string)   { w.log.Debug(message) }
func (w *WailsLogger) Debug(message string)   { w.log.Debug(message) }
func (w *WailsLogger) Info(message string)    { w.log.Info(message) }
func (w *WailsLogger) Warning(message string) { w.log.Warn(message) }
func (w *WailsLogger) Error(message string)   { w.log.Error(message) }
func (w *WailsLogger) Fatal(message string)   { w.log.Fatal(message) }

// WailsLevel maps a zap level onto the shell's log level.
func WailsLevel(level zapcore.Level) logger.LogLevel {
	switch {
	case level <= zapcore.DebugLevel:
		return logger.DEBUG
	case level == zapcore.InfoLevel:
		return logger.INFO
	case level == zapcore.WarnLevel:
		return logger.WARNING
	default:
		return logger.ERROR
	}
}
