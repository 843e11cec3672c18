package rtc

import (
	"bytes"
	"runtime"
	"strconv"
	"time"
)

// goroutineID parses the current goroutine's id out of its stack header,
// "goroutine N [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// onLoop reports whether the caller is the run loop goroutine itself, which
// is the case when a user callback re-enters the public API.
func (m *Manager) onLoop() bool {
	gid := m.loopGID.Load()
	return gid != 0 && gid == goroutineID()
}

// post schedules f on the run loop. Returns false once the manager has
// stopped; callers treat that as ErrNotRunning.
func (m *Manager) post(f func()) bool {
	select {
	case m.tasks <- f:
		return true
	case <-m.done:
		return false
	}
}

// call runs f on the loop and waits for its error, keeping the public API
// synchronous while all state stays loop-owned. Re-entrant calls from a
// callback already running on the loop execute inline, so the loop is never
// asked to wait on itself.
func (m *Manager) call(f func() error) error {
	if m.onLoop() {
		return f()
	}
	errCh := make(chan error, 1)
	if !m.post(func() { errCh <- f() }) {
		return ErrNotRunning
	}
	select {
	case err := <-errCh:
		return err
	case <-m.done:
		return ErrNotRunning
	}
}

// Timer is a cancel-and-reschedule deferral whose function always executes
// on the run loop, so timer callbacks see the same single-threaded world as
// every other handler.
type Timer struct {
	m  *Manager
	fn func()
	t  *time.Timer
}

func (m *Manager) newTimer(fn func()) *Timer {
	return &Timer{m: m, fn: fn}
}

// Schedule arms the timer, replacing any earlier deadline.
func (t *Timer) Schedule(d time.Duration) {
	t.Cancel()
	t.t = time.AfterFunc(d, func() {
		t.m.post(t.fn)
	})
}

func (t *Timer) Cancel() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}
