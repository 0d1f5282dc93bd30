package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// File, when set, receives a copy of every entry (appended, mode 0600).
	File string
	// Output replaces stderr; used by tests.
	Output io.Writer
}

// New builds a logger. The returned closer releases File, if any.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	lvl := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if lvl, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, f)
		closer = f
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l, closer, nil
}

// Discard returns an entry that writes nowhere.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Component tags entries from one part of the program.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
