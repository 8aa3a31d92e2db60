package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron adapts a component slog.Logger to the cron.Logger interface.
func Cron(l *slog.Logger) cron.Logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return cronLogger{l: l}
}

type cronLogger struct {
	l *slog.Logger
}

// Info is routed to debug; cron reports every wake-up and schedule.
func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
