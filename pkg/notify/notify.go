// Package notify delivers user-facing import notices: validation problems,
// partial-success counts, completion and resumable failures.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Level is the severity of a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a message for the person running the import
type Notice struct {
	Level   Level
	Title   string
	Message string
	Entity  string
}

// Notifier delivers notices
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Func adapts a function to Notifier
type Func func(ctx context.Context, n Notice) error

func (f Func) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// LogNotifier writes notices to a structured logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging through logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notice) error {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message,
		slog.String("title", n.Title),
		slog.String("level", string(n.Level)),
		slog.String("entity", n.Entity))
	return nil
}

// Multi fans a notice out to every notifier, joining their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
