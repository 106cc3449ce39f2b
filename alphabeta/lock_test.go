package alphabeta

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockBetaGroupConcurrency(t *testing.T) {
	l := New()
	t1, err := l.EnterBeta(nil, -1)
	require.NoError(t, err)
	t2, err := l.EnterBeta(nil, -1)
	require.NoError(t, err)

	require.True(t, l.IsBetaHeld())
	require.False(t, l.IsAlphaHeld())

	require.NoError(t, l.ExitBeta(t1))
	require.NoError(t, l.ExitBeta(t2))
	require.False(t, l.IsBetaHeld())
}

func TestLockAlphaExcludesBeta(t *testing.T) {
	l := New()
	at, err := l.EnterAlpha(nil, -1)
	require.NoError(t, err)

	_, err = l.TryEnterBeta(nil)
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, l.ExitAlpha(at))
	bt, err := l.TryEnterBeta(nil)
	require.NoError(t, err)
	require.NoError(t, l.ExitBeta(bt))
}

func TestLockAlphaPriorityOverWaitingBeta(t *testing.T) {
	l := New()
	bt, err := l.EnterBeta(nil, -1)
	require.NoError(t, err)

	var alphaAdmitted time.Time
	var betaAdmitted time.Time
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond) // let beta2 start waiting first
		at, err := l.EnterAlpha(nil, time.Second)
		require.NoError(t, err)
		alphaAdmitted = time.Now()
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, l.ExitAlpha(at))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		bt2, err := l.EnterBeta(nil, time.Second)
		require.NoError(t, err)
		betaAdmitted = time.Now()
		require.NoError(t, l.ExitBeta(bt2))
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.ExitBeta(bt))

	wg.Wait()
	require.True(t, alphaAdmitted.Before(betaAdmitted), "alpha should be admitted before the later-arriving beta")
}

func TestLockRecursionRejected(t *testing.T) {
	l := New()
	ticket, err := l.EnterBeta(nil, -1)
	require.NoError(t, err)

	_, err = l.EnterBeta(ticket, -1)
	require.ErrorIs(t, err, ErrRecursion)

	_, err = l.EnterAlpha(ticket, -1)
	require.ErrorIs(t, err, ErrInvalidOperation)

	require.NoError(t, l.ExitBeta(ticket))
}

func TestLockExitWithoutHoldingFails(t *testing.T) {
	l := New()
	ticket := &Ticket{}
	require.ErrorIs(t, l.ExitAlpha(ticket), ErrNotHeld)
	require.ErrorIs(t, l.ExitBeta(ticket), ErrNotHeld)
}

func TestLockTryEnterNonBlocking(t *testing.T) {
	l := New()
	bt, err := l.EnterBeta(nil, -1)
	require.NoError(t, err)

	_, err = l.TryEnterAlpha(nil)
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, l.ExitBeta(bt))
}

func TestLockDisposedRejectsFurtherUse(t *testing.T) {
	l := New()
	l.Dispose()
	_, err := l.EnterBeta(nil, -1)
	require.ErrorIs(t, err, ErrDisposed)
}

func TestLockMaxGroupCountConstant(t *testing.T) {
	require.Equal(t, 1<<31-2, MaxGroupCount)
}
