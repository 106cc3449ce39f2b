// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package logging

import "github.com/joeycumines/logiface"

// logifaceLogger bridges this package's Logger interface onto an
// already-configured [logiface.Logger], so a host process can plug any of
// logiface's backends (zerolog, logrus, slog, stumpy) straight into the
// scheduler core via SetStructuredLogger, instead of being stuck with
// DefaultLogger.
type logifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

// NewLogifaceLogger adapts l to this package's Logger interface. The level
// mapping follows logiface's syslog-derived scale: Debug maps to
// LevelDebug, Info to LevelInformational, Warn to LevelWarning, and Error
// to LevelError.
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return logifaceLogger[E]{l: l}
}

func (a logifaceLogger[E]) toLogifaceLevel(level Level) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (a logifaceLogger[E]) IsEnabled(level Level) bool {
	return a.l != nil && a.l.Level() >= a.toLogifaceLevel(level)
}

func (a logifaceLogger[E]) Log(entry Entry) {
	if a.l == nil {
		return
	}
	b := a.l.Build(a.toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	b = b.Str("category", entry.Category)
	if entry.WorkloadID != 0 {
		b = b.Uint64("workload", entry.WorkloadID)
	}
	if entry.ChildHandle != 0 {
		b = b.Uint64("child", entry.ChildHandle)
	}
	for k, v := range entry.Fields {
		b = b.Field(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}
