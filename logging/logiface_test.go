// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package logging

import (
	"errors"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"
)

// recordingEvent is a minimal logiface.Event implementation, modeled on
// stumpy's Event: it embeds UnimplementedEvent for the optional methods and
// captures fields/message directly for inspection by the test.
type recordingEvent struct {
	logiface.UnimplementedEvent
	level   logiface.Level
	fields  map[string]any
	message string
}

func (e *recordingEvent) Level() logiface.Level { return e.level }

func (e *recordingEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

func (e *recordingEvent) AddMessage(msg string) bool {
	e.message = msg
	return true
}

// recordingWriter captures the last event written, for assertions.
type recordingWriter struct {
	last *recordingEvent
}

func (w *recordingWriter) Write(event *recordingEvent) error {
	w.last = event
	return nil
}

func newRecordingLogger(w *recordingWriter, level logiface.Level) *logiface.Logger[*recordingEvent] {
	return logiface.New[*recordingEvent](
		logiface.WithEventFactory[*recordingEvent](logiface.EventFactoryFunc[*recordingEvent](func(lvl logiface.Level) *recordingEvent {
			return &recordingEvent{level: lvl}
		})),
		logiface.WithWriter[*recordingEvent](w),
		logiface.WithLevel[*recordingEvent](level),
	)
}

func TestLogifaceLoggerForwardsFieldsAndMessage(t *testing.T) {
	w := &recordingWriter{}
	logger := NewLogifaceLogger[*recordingEvent](newRecordingLogger(w, logiface.LevelInformational))

	logger.Log(New(LevelInfo, "bitmap", "set bit").
		Workload(42).
		Child(7).
		Field("bit", 3).
		Build())

	require.NotNil(t, w.last)
	require.Equal(t, "set bit", w.last.message)
	require.Equal(t, "bitmap", w.last.fields["category"])
	// recordingEvent does not implement AddUint64, so logiface stores the
	// Uint64 fields through its string fallback, in decimal.
	require.Equal(t, "42", w.last.fields["workload"])
	require.Equal(t, "7", w.last.fields["child"])
	require.Equal(t, 3, w.last.fields["bit"])
}

func TestLogifaceLoggerForwardsError(t *testing.T) {
	w := &recordingWriter{}
	logger := NewLogifaceLogger[*recordingEvent](newRecordingLogger(w, logiface.LevelInformational))

	wantErr := errors.New("boom")
	logger.Log(New(LevelError, "gfq", "dispatch failed").Err(wantErr).Build())

	require.NotNil(t, w.last)
	err, _ := w.last.fields["err"].(error)
	require.Equal(t, wantErr, err)
}

func TestLogifaceLoggerIsEnabledRespectsLevel(t *testing.T) {
	w := &recordingWriter{}
	logger := NewLogifaceLogger[*recordingEvent](newRecordingLogger(w, logiface.LevelWarning))

	require.False(t, logger.IsEnabled(LevelInfo))
	require.True(t, logger.IsEnabled(LevelWarn))
	require.True(t, logger.IsEnabled(LevelError))
}

func TestLogifaceLoggerNilUnderlyingIsNoOp(t *testing.T) {
	logger := NewLogifaceLogger[*recordingEvent](nil)
	require.False(t, logger.IsEnabled(LevelError))
	logger.Log(New(LevelError, "x", "y").Build()) // must not panic
}
