package tetherd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

// gate is a single-fire latch. Firing more than once is a no-op; waiters
// observe the first firing only.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) fire() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) fired() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// EventWatcher converts the daemon's stream of set-valued notifications
// into edge-triggered, awaitable state transitions for one downstream
// interface.
//
// For each operating state the watcher runs the machine
// Unseen -> Entered -> Left: Entered fires when a snapshot first
// contains the interface, Left fires when a later snapshot no longer
// does. Repeated identical snapshots never re-fire a gate. The watcher
// additionally latches the first non-empty client collection and the
// first upstream network reported.
type EventWatcher struct {
	iface    InterfaceIdentity
	stop     func()
	stopOnce sync.Once

	// unsubscribed is checked at the top of the notification handler:
	// unsubscription is not synchronous with the source, so anything
	// delivered after it must be discarded, not processed.
	unsubscribed atomic.Bool

	mu       sync.Mutex
	seen     map[OperatingState]bool
	clients  []ClientRecord
	upstream NetworkID
	fatal    error

	entered      map[OperatingState]*gate
	left         map[OperatingState]*gate
	clientsGate  *gate
	upstreamGate *gate
	fatalGate    *gate
}

// NewEventWatcher consumes notifications for iface from ch until ch is
// closed. stop, which may be nil, is invoked once on Unsubscribe to
// detach the underlying notification source.
func NewEventWatcher(iface InterfaceIdentity, ch <-chan Notification, stop func()) *EventWatcher {
	w := &EventWatcher{
		iface: iface,
		stop:  stop,
		seen:  make(map[OperatingState]bool),
		entered: map[OperatingState]*gate{
			StateTethered:  newGate(),
			StateLocalOnly: newGate(),
		},
		left: map[OperatingState]*gate{
			StateTethered:  newGate(),
			StateLocalOnly: newGate(),
		},
		clientsGate:  newGate(),
		upstreamGate: newGate(),
		fatalGate:    newGate(),
	}
	go func() {
		for n := range ch {
			w.handle(n)
		}
	}()
	return w
}

func (w *EventWatcher) handle(n Notification) {
	if w.unsubscribed.Load() {
		// Stale delivery after Unsubscribe.
		return
	}
	switch n := n.(type) {
	case InterfaceSetChange:
		w.handleSet(n)
	case LegacyInterfaceListChange:
		w.poison(errors.Wrapf(faults.ErrProtocolViolation,
			"daemon delivered a plain name list for %s state instead of an identity set", n.State))
	case ClientsChange:
		w.mu.Lock()
		w.clients = append([]ClientRecord(nil), n.Clients...)
		w.mu.Unlock()
		if len(n.Clients) > 0 {
			w.clientsGate.fire()
		}
	case UpstreamChange:
		if n.Network == "" {
			return
		}
		w.mu.Lock()
		w.upstream = n.Network
		w.mu.Unlock()
		w.upstreamGate.fire()
	case violation:
		w.poison(errors.Wrapf(faults.ErrProtocolViolation, "undecodable notification: %v", n.err))
	default:
		w.poison(errors.Wrapf(faults.ErrProtocolViolation, "unknown notification %T", n))
	}
}

func (w *EventWatcher) handleSet(n InterfaceSetChange) {
	contains := false
	for _, id := range n.Interfaces {
		if id == w.iface {
			contains = true
			break
		}
	}

	w.mu.Lock()
	was := w.seen[n.State]
	if !was && contains {
		w.seen[n.State] = true
	}
	w.mu.Unlock()

	if !was && contains {
		w.entered[n.State].fire()
	} else if was && !contains {
		w.left[n.State].fire()
	}
}

func (w *EventWatcher) poison(err error) {
	w.mu.Lock()
	if w.fatal == nil {
		w.fatal = err
	}
	w.mu.Unlock()
	w.fatalGate.fire()
}

func (w *EventWatcher) fatalErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatal
}

func (w *EventWatcher) await(g *gate, timeout time.Duration, what string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.fatalGate.ch:
		return w.fatalErr()
	case <-g.ch:
		return nil
	case <-timer.C:
		return errors.Wrapf(faults.ErrTimeout, "%s not observed within %v", what, timeout)
	}
}

// AwaitEntered blocks until the interface has entered state.
func (w *EventWatcher) AwaitEntered(state OperatingState, timeout time.Duration) error {
	return w.await(w.entered[state], timeout, w.iface.String()+" entering "+state.String())
}

// AwaitLeft blocks until the interface has left state after having
// entered it.
func (w *EventWatcher) AwaitLeft(state OperatingState, timeout time.Duration) error {
	return w.await(w.left[state], timeout, w.iface.String()+" leaving "+state.String())
}

// AwaitUntethered is the teardown wait: it blocks until the interface
// has left whichever state it entered. If the interface never entered
// any state, it returns immediately so teardown is not held up; this is
// racy against a very late start, but that can only happen after the
// session start already timed out.
func (w *EventWatcher) AwaitUntethered(timeout time.Duration) error {
	w.mu.Lock()
	tethered := w.seen[StateTethered]
	localOnly := w.seen[StateLocalOnly]
	w.mu.Unlock()

	switch {
	case tethered:
		return w.AwaitLeft(StateTethered, timeout)
	case localOnly:
		return w.AwaitLeft(StateLocalOnly, timeout)
	default:
		return nil
	}
}

// AwaitClients blocks until the daemon has reported at least one
// connected client, then returns the latest client collection.
func (w *EventWatcher) AwaitClients(timeout time.Duration) ([]ClientRecord, error) {
	if err := w.await(w.clientsGate, timeout, "first client connection"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ClientRecord(nil), w.clients...), nil
}

// AwaitUpstream blocks until the daemon has reported its first selected
// upstream network.
func (w *EventWatcher) AwaitUpstream(timeout time.Duration) (NetworkID, error) {
	if err := w.await(w.upstreamGate, timeout, "first upstream selection"); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upstream, nil
}

// Err returns the fatal error a protocol violation recorded, if any.
func (w *EventWatcher) Err() error {
	return w.fatalErr()
}

// Unsubscribe detaches the watcher from its notification source. Any
// notification still in flight is discarded; gates keep the results
// they already hold.
func (w *EventWatcher) Unsubscribe() {
	w.unsubscribed.Store(true)
	if w.stop != nil {
		w.stopOnce.Do(w.stop)
	}
}
