package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

type Options struct {
	// Level is shared by every handler; nil means a fresh LevelVar at Info.
	Level *slog.LevelVar
	// Terminal receives text output; nil means os.Stderr.
	Terminal io.Writer
	// File, when set, also receives JSON records (appended).
	File string
}

// Logger wraps the fanout logger together with the resources it owns.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar

	file *os.File
}

func New(opts Options) (*Logger, error) {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	term := opts.Terminal
	if term == nil {
		term = os.Stderr
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(term, &slog.HandlerOptions{Level: level}),
	}

	l := &Logger{Level: level}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}
	l.Logger = slog.New(slogmulti.Fanout(handlers...))
	return l, nil
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }
