// Package logging builds the *log.Logger instances handed to components.
//
// Every component logs through its own logger with a "[component] " prefix.
// Output goes to stderr and, when a file is configured, to a size-rotated
// log file as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File is the log file path. Empty disables file output.
	File string

	// MaxSizeMB is the size at which the file is rotated (default: 10).
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (0: keep all).
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept (0: forever).
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool

	// Console receives output alongside the file (default: os.Stderr).
	// Set Quiet to drop console output entirely.
	Console io.Writer
	Quiet   bool
}

// Logs is the shared log sink.
type Logs struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New creates the sink described by opts.
func New(opts Options) *Logs {
	var writers []io.Writer
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	l := &Logs{}
	if opts.File != "" {
		size := opts.MaxSizeMB
		if size <= 0 {
			size = 10
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    size,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l
}

// Writer returns the combined output.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Logger returns a logger prefixed with "[component] ".
func (l *Logs) Logger(component string) *log.Logger {
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	return log.New(l.out, prefix, log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without file output.
func (l *Logs) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file.
func (l *Logs) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
