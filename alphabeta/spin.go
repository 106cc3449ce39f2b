package alphabeta

import (
	"runtime"
	"time"

	"golang.org/x/exp/rand"
)

// shortSpinBudget bounds the number of spin iterations attempted before
// a waiter parks on its event channel. Past this point a busy-spinning
// goroutine is more likely hurting the holder than helping admission
// latency.
const shortSpinBudget = 70

// spinJitter is a package-local source for backoff jitter. x/exp/rand's
// generator carries no internal mutex the way the pre-1.22 math/rand
// global functions did, so many goroutines spinning concurrently never
// serialize against each other just to pick a delay.
var spinJitter = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))

// spinBackoff yields the processor with a short, increasing, jittered
// pause. It uses runtime.Gosched for the first few iterations (cheap, no
// real delay) and falls back to a short randomized sleep once contention
// looks sustained, since Go goroutines are multiplexed onto OS threads
// and a pure busy-loop can starve the runtime scheduler in ways a native
// spin-wait would not; the jitter avoids every waiter on the same event
// re-checking admission in lockstep.
func spinBackoff(iteration int) {
	if iteration < 8 {
		runtime.Gosched()
		return
	}
	base := time.Duration(iteration) * time.Microsecond
	jitter := time.Duration(spinJitter.Int63n(int64(base) + 1))
	time.Sleep(base + jitter)
}

// waitOnEvent blocks on event until it is closed (returns true, meaning
// "re-check admission") or the timeout elapses (returns false). A
// negative timeout blocks indefinitely.
func waitOnEvent(event chan struct{}, timeout time.Duration) bool {
	if timeout < 0 {
		<-event
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-event:
		return true
	case <-timer.C:
		return false
	}
}
