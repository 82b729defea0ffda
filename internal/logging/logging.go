// Package logging builds the daemon's rotating log.Logger.
//
// The teacher depends on gopkg.in/natefinch/lumberjack.v2 but never wires
// it anywhere in the retrieved slice — this package is where it's
// actually used, backing the daemon's daemon.log the way §6 requires
// (rotated, never unbounded).
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the daemon log file's rotation policy.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// AlsoStderr mirrors log output to stderr in addition to the file,
	// for `isq daemon run` invoked directly in a foreground terminal.
	AlsoStderr bool
}

func (o Options) withDefaults() Options {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 5
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 30
	}
	return o
}

// New builds a *log.Logger writing to a lumberjack-rotated file at
// opts.Path (optionally tee'd to stderr), with the standard daemon
// date+time prefix.
func New(opts Options) *log.Logger {
	opts = opts.withDefaults()

	roller := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	var w io.Writer = roller
	if opts.AlsoStderr {
		w = io.MultiWriter(roller, os.Stderr)
	}
	return log.New(w, "", log.LstdFlags)
}
