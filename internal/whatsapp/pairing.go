package whatsapp

import (
	"context"
	"sync"
	"time"
)

// pairingWaiter is the single-shot result of one bounded start call. The first
// of qr, open, close, stop, timeout or init failure settles it, and settling
// stops the timer.
type pairingWaiter struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	qr      string
	err     error
	timer   *time.Timer
}

func newPairingWaiter() *pairingWaiter {
	return &pairingWaiter{done: make(chan struct{})}
}

func (w *pairingWaiter) startTimer(d time.Duration, onTimeout func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled {
		return
	}
	w.timer = time.AfterFunc(d, onTimeout)
}

// settle reports whether this call won.
func (w *pairingWaiter) settle(qr string, err error) bool {
	return w.settleThen(qr, err, nil)
}

// settleThen is settle with fn run before the waiting caller is released, so
// the caller observes its effects.
func (w *pairingWaiter) settleThen(qr string, err error, fn func()) bool {
	w.mu.Lock()
	if w.settled {
		w.mu.Unlock()
		return false
	}
	w.settled = true
	w.qr, w.err = qr, err
	timer := w.timer
	w.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if fn != nil {
		fn()
	}
	close(w.done)
	return true
}

// succeed settles with qr and runs fn before the caller is released. After an
// earlier success fn still runs; after a failure it is skipped and succeed
// returns false.
func (w *pairingWaiter) succeed(qr string, fn func()) bool {
	if w.settleThen(qr, nil, fn) {
		return true
	}
	w.mu.Lock()
	failed := w.err != nil
	w.mu.Unlock()
	if failed {
		return false
	}
	fn()
	return true
}

func (w *pairingWaiter) wait(ctx context.Context) (string, error) {
	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.qr, w.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
