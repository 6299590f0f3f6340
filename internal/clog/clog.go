// Package clog is the compiler's leveled console logger. The product's
// own CLI tooling wrote progress straight to stdout with fmt.Printf and
// a handful of fixed prefixes ("Building...", "  < Downloading...",
// "Build complete: ..."); this keeps that terse, single-line-per-event
// voice but adds a severity level and color, so `fasterbasic build -v`
// can show Debug-level detail while the default run only shows Info and
// above, and so pipe/CI output never carries raw ANSI escapes.
package clog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"
	"github.com/mattn/go-isatty"
)

// Level is the logger's severity, lowest to highest.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return "?"
}

var levelColor = map[Level]string{
	Debug: "\x1b[90m", // gray
	Info:  "\x1b[36m", // cyan
	Warn:  "\x1b[33m", // yellow
	Error: "\x1b[31m", // red
}

const colorReset = "\x1b[0m"

// Logger writes leveled, optionally colored lines to an output stream.
// The zero value is not usable; construct with New.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
	color    bool
	start    time.Time
}

// New builds a Logger writing to out at minLevel and above. Color is
// auto-detected via go-isatty: it is enabled only when out is a file
// descriptor attached to a terminal, so redirecting build output to a
// log file or CI artifact never embeds escape codes.
func New(out *os.File, minLevel Level) *Logger {
	return &Logger{
		out:      out,
		minLevel: minLevel,
		color:    isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
		start:    time.Time{},
	}
}

// NewDiscard builds a Logger that drops every line, for tests and
// library callers that don't want console output.
func NewDiscard() *Logger {
	return &Logger{out: io.Discard, minLevel: Error + 1}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if l.color {
		fmt.Fprintf(l.out, "%s[%s]%s %s\n", levelColor[level], level, colorReset, msg)
	} else {
		fmt.Fprintf(l.out, "[%s] %s\n", level, msg)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, format, args...) }

// Dump logs a field-by-field rendering of v (a parsed IR module, a
// diagnostic bag, a frame layout) at Debug level via kr/pretty, the same
// %#v-but-readable form `go test`'s own diffing uses. It is a no-op
// below Debug level, so a verbose dump never costs a Sprint in the
// common case.
func (l *Logger) Dump(label string, v interface{}) {
	if l.minLevel > Debug {
		return
	}
	l.Debugf("%s:\n%s", label, pretty.Sprint(v))
}

// Wrote logs that path was written, with its size rendered in
// human-readable units (go-humanize) rather than a raw byte count, the
// same report a `build` command's final summary line gives.
func (l *Logger) Wrote(path string, size int64) {
	l.Infof("wrote %s (%s)", path, humanize.Bytes(uint64(size)))
}

// Stage logs the start of a pipeline stage and returns a function to
// call when it finishes, which logs the elapsed time - the same
// "Resolving imports...\nFound N modules" progress-pair shape the
// product's own builder printed around each step, just timestamped.
func (l *Logger) Stage(name string) func() {
	t0 := time.Now()
	l.Infof("%s...", name)
	return func() {
		l.Debugf("%s done (%s)", name, time.Since(t0).Round(time.Microsecond))
	}
}
