// Package capture provides an asynchronous reader over a raw link file
// descriptor. A dedicated goroutine copies every received frame into an
// ordered queue; callers remove frames with a blocking, timeout-bounded
// Pop and inject frames with Send.
package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Reader buffers frames received on a raw link fd.
//
// The read loop goroutine is the only writer to the queue. Frames are
// delivered in arrival order and each popped frame is an independent
// copy owned by the caller.
type Reader struct {
	fd  int
	mtu int

	mu      sync.Mutex
	queue   [][]byte
	closed  bool
	started bool

	// wake has capacity one; the read loop nudges it after every
	// enqueue and on shutdown so that a blocked Pop rechecks the queue.
	wake chan struct{}
	done chan struct{}
}

// pollIntervalMs bounds how long the read loop stays in the kernel, so
// that Close never waits longer than this for the loop to notice it.
const pollIntervalMs = 100

// NewReader wraps fd, which must be bound to a downstream link. The
// caller keeps ownership of fd and must not close it before Close
// returns.
func NewReader(fd, mtu int) *Reader {
	return &Reader{
		fd:   fd,
		mtu:  mtu,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start begins the asynchronous read loop.
func (r *Reader) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.loop()
}

func (r *Reader) loop() {
	defer close(r.done)
	defer r.nudge()
	buf := make([]byte, r.mtu)
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}

		// A closed fd does not interrupt a blocked read, so wait for
		// readability in bounded slices and recheck the closed flag
		// between them.
		pfds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
		ready, err := unix.Poll(pfds, pollIntervalMs)
		if err == unix.EINTR || ready == 0 {
			continue
		}
		if err != nil {
			r.markClosed()
			return
		}

		n, err := unix.Read(r.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			// Frames already queued remain poppable.
			r.markClosed()
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		r.mu.Lock()
		r.queue = append(r.queue, frame)
		r.mu.Unlock()
		r.nudge()
	}
}

func (r *Reader) markClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Reader) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest queued frame, blocking up to
// timeout. It returns nil when no frame arrived in time; a timeout is
// an absence, not an error. After the read loop has terminated, Pop
// still drains already-queued frames before returning nil.
func (r *Reader) Pop(timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			frame := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return frame
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
			return nil
		}
	}
}

// Send injects a frame into the link.
func (r *Reader) Send(frame []byte) error {
	if _, err := unix.Write(r.fd, frame); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close terminates the read loop and waits for it to stop. It does not
// close the descriptor; that stays with the owner, who may release it
// once Close has returned. Queued frames remain available to Pop.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.mu.Unlock()
	r.nudge()

	if started {
		<-r.done
	}
	return nil
}
