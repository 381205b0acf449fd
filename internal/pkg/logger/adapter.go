package logger

import (
	"log/slog"

	"wallet_playground/internal/app/port"
)

// slogAdapter реализует интерфейс port.Logger поверх slog.
// With-атрибуты копятся в собственном slog.Logger адаптера.
type slogAdapter struct {
	l *slog.Logger
}

// NewSlogAdapter создает адаптер над глобальным логгером пакета.
func NewSlogAdapter() port.Logger {
	ensureInitialized()
	return &slogAdapter{}
}

// NewAdapter оборачивает произвольный slog.Logger, удобно в тестах.
func NewAdapter(l *slog.Logger) port.Logger {
	return &slogAdapter{l: l}
}

func (a *slogAdapter) logger() *slog.Logger {
	if a.l != nil {
		return a.l
	}
	ensureInitialized()
	return globalLogger
}

func (a *slogAdapter) Info(msg string, args ...any) {
	a.logger().Info(msg, args...)
}

func (a *slogAdapter) Debug(msg string, args ...any) {
	a.logger().Debug(msg, args...)
}

func (a *slogAdapter) Warn(msg string, args ...any) {
	a.logger().Warn(msg, args...)
}

func (a *slogAdapter) Error(msg string, args ...any) {
	a.logger().Error(msg, args...)
}

func (a *slogAdapter) With(args ...any) port.Logger {
	return &slogAdapter{l: a.logger().With(args...)}
}

// NewNop возвращает логгер, который ничего не пишет.
func NewNop() port.Logger {
	return &slogAdapter{l: slog.New(slog.DiscardHandler)}
}
