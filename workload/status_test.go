package workload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusWordHappyPath(t *testing.T) {
	w := NewStatusWord()
	require.Equal(t, Created, w.Load())

	require.True(t, w.MarkScheduled())
	require.Equal(t, Scheduled, w.Load())

	require.True(t, w.MarkRunning())
	require.Equal(t, Running, w.Load())

	require.True(t, w.MarkRanToCompletion())
	require.True(t, w.Load().IsTerminal())
	require.True(t, w.Load().IsOneOf(RanToCompletion))
}

func TestStatusWordInvalidTransitionsFail(t *testing.T) {
	w := NewStatusWord()
	require.False(t, w.MarkRunning()) // not yet Scheduled
	require.False(t, w.MarkRanToCompletion())
	require.False(t, w.MarkFaulted())
}

func TestStatusWordFaultPath(t *testing.T) {
	w := NewStatusWord()
	require.True(t, w.MarkScheduled())
	require.True(t, w.MarkRunning())
	require.True(t, w.MarkFaulted())
	require.True(t, w.Load().IsTerminal())
	require.False(t, w.MarkRanToCompletion())
}

func TestStatusWordCancellation(t *testing.T) {
	w := NewStatusWord()
	require.True(t, w.MarkScheduled())
	require.True(t, w.MarkRunning())

	require.True(t, w.RequestCancellation())
	require.True(t, w.Load().IsOneOf(CancellationRequested))

	require.True(t, w.AcknowledgeCancellation())
	require.Equal(t, Canceled, w.Load())
	require.True(t, w.Load().IsTerminal())

	// A second acknowledgement has nothing left to acknowledge.
	require.False(t, w.AcknowledgeCancellation())
}

func TestStatusWordContinuationsInvokedOnce(t *testing.T) {
	w := NewStatusWord()
	require.True(t, w.MarkScheduled())
	require.True(t, w.MarkRunning())
	require.True(t, w.MarkRanToCompletion())

	require.True(t, w.MarkContinuationsInvoked())
	require.False(t, w.MarkContinuationsInvoked())
	require.True(t, w.Load().IsOneOf(ContinuationsInvoked))
}

func TestStatusWordContinuationsInvokedRequiresTerminal(t *testing.T) {
	w := NewStatusWord()
	require.True(t, w.MarkScheduled())
	require.False(t, w.MarkContinuationsInvoked())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "Invalid", Invalid.String())
	require.Equal(t, "Created", Created.String())
	require.Contains(t, (RanToCompletion | ContinuationsInvoked).String(), "RanToCompletion")
	require.Contains(t, (RanToCompletion | ContinuationsInvoked).String(), "ContinuationsInvoked")
}

func TestTestAnyFlagsExchange(t *testing.T) {
	w := NewStatusWord()
	_, matched := w.TestAnyFlagsExchange(Running, Canceled)
	require.False(t, matched) // currently Created, not Running

	result, matched := w.TestAnyFlagsExchange(Created, CancellationRequested)
	require.True(t, matched)
	require.True(t, result.IsOneOf(Created))
	require.True(t, result.IsOneOf(CancellationRequested))
}
