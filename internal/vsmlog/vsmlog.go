// Package vsmlog wires the VSM core's logging calls to logiface, the
// structured logging front end used throughout the teacher monorepo, backed
// by the stumpy JSON sink.
package vsmlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used across the core. Aliased so
// every package can depend on vsmlog without importing logiface/stumpy
// directly.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON to w at the given
// level. Passing a nil w defaults to os.Stderr, matching stumpy's own
// default.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// Discard is a logger with logging disabled, suitable as a default for
// components constructed without an explicit logger (mirrors the
// teacher's pattern of a safe, non-nil zero value).
func Discard() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// Named convenience re-exports so call sites don't need the logiface
// import merely to pick a level.
const (
	LevelDebug   = logiface.LevelDebug
	LevelInfo    = logiface.LevelInformational
	LevelWarning = logiface.LevelWarning
	LevelError   = logiface.LevelError
)
