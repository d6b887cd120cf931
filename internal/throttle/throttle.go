package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound calls. Wait blocks until the next call may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-timer Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// Unlimited never blocks.
func Unlimited() Limiter { return unlimited{} }

// Window is a fixed-window pacer: every `calls` admitted calls it inserts one fixed pause
// before the next call. The first window starts immediately.
type Window struct {
	mu    sync.Mutex
	calls int
	pause time.Duration
	sleep Sleeper
	count int
}

// NewWindow builds a Window. A nil sleeper uses real timers.
func NewWindow(calls int, pause time.Duration, sleep Sleeper) *Window {
	if calls < 1 {
		calls = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &Window{calls: calls, pause: pause, sleep: sleep}
}

func (w *Window) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.pause > 0 && w.count > 1 && (w.count-1)%w.calls == 0 {
		if err := w.sleep(ctx, w.pause); err != nil {
			w.count--
			return err
		}
	}
	return ctx.Err()
}

// Calls reports how many calls have been admitted.
func (w *Window) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reset starts a fresh window sequence.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count = 0
}

// NewRate returns a token bucket admitting perSecond calls with the given burst. A
// non-positive rate disables limiting.
func NewRate(perSecond float64, burst int) Limiter {
	if perSecond <= 0 {
		return Unlimited()
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
