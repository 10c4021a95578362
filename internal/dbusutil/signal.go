package dbusutil

import (
	"context"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// signalChanSize is the buffer size of channels holding signals. Signals
// are dropped by godbus if the channel sits full, so watchers should be
// drained promptly.
const signalChanSize = 10

// MatchSpec is used to define the matching criteria of D-Bus signals.
type MatchSpec struct {
	Type      string
	Path      dbus.ObjectPath
	Interface string
	Member    string
	Arg0      string
}

// String returns the match rule in the format of D-Bus match rule
// syntax.
func (s *MatchSpec) String() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"='"+value+"'")
		}
	}
	add("type", s.Type)
	add("path", string(s.Path))
	add("interface", s.Interface)
	add("member", s.Member)
	add("arg0", s.Arg0)
	return strings.Join(parts, ",")
}

// MatchesSignal reports whether sig matches the spec.
func (s *MatchSpec) MatchesSignal(sig *dbus.Signal) bool {
	if s.Path != "" && s.Path != sig.Path {
		return false
	}
	if s.Interface != "" || s.Member != "" {
		i := strings.LastIndex(sig.Name, ".")
		if i < 0 {
			return false
		}
		iface, member := sig.Name[:i], sig.Name[i+1:]
		if s.Interface != "" && s.Interface != iface {
			return false
		}
		if s.Member != "" && s.Member != member {
			return false
		}
	}
	if s.Arg0 != "" {
		if len(sig.Body) == 0 {
			return false
		}
		arg, ok := sig.Body[0].(string)
		if !ok || arg != s.Arg0 {
			return false
		}
	}
	return true
}

// SignalWatcher watches D-Bus signals matching one or more MatchSpecs
// and delivers them on the Signals channel until closed.
type SignalWatcher struct {
	// Signals receives matched signals. The channel is buffered; if the
	// watcher is not drained, further matching signals are dropped.
	Signals chan *dbus.Signal

	conn     *dbus.Conn
	ownsConn bool
	specs    []MatchSpec
	all      chan *dbus.Signal

	closeOnce sync.Once
	closeErr  error
}

// NewSignalWatcher returns a SignalWatcher that delivers signals on
// conn matching any of specs.
func NewSignalWatcher(ctx context.Context, conn *dbus.Conn, specs ...MatchSpec) (*SignalWatcher, error) {
	if len(specs) == 0 {
		return nil, errors.New("no match specs supplied")
	}
	for _, spec := range specs {
		if err := conn.BusObject().CallWithContext(ctx, addMatchMethod, 0, spec.String()).Err; err != nil {
			return nil, errors.Wrapf(err, "failed to add match %q", spec.String())
		}
	}

	w := &SignalWatcher{
		Signals: make(chan *dbus.Signal, signalChanSize),
		conn:    conn,
		specs:   specs,
		all:     make(chan *dbus.Signal, signalChanSize),
	}
	conn.Signal(w.all)

	go func() {
		for sig := range w.all {
			if !w.matches(sig) {
				continue
			}
			select {
			case w.Signals <- sig:
			default:
				// Dropping is preferable to wedging the shared
				// dispatch goroutine inside godbus.
			}
		}
		close(w.Signals)
	}()

	return w, nil
}

// NewSignalWatcherForSystemBus returns a SignalWatcher over its own
// private system bus connection, so heavy signal traffic cannot starve
// other users of the shared connection. The connection is closed along
// with the watcher.
func NewSignalWatcherForSystemBus(ctx context.Context, specs ...MatchSpec) (*SignalWatcher, error) {
	conn, err := SystemBusPrivate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}
	w, err := NewSignalWatcher(ctx, conn, specs...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	w.ownsConn = true
	return w, nil
}

func (w *SignalWatcher) matches(sig *dbus.Signal) bool {
	for i := range w.specs {
		if w.specs[i].MatchesSignal(sig) {
			return true
		}
	}
	return false
}

// Close stops watching. It is safe to call more than once; later calls
// return the first result.
func (w *SignalWatcher) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		for _, spec := range w.specs {
			if err := w.conn.BusObject().CallWithContext(ctx, removeMatchMethod, 0, spec.String()).Err; err != nil && w.closeErr == nil {
				w.closeErr = errors.Wrapf(err, "failed to remove match %q", spec.String())
			}
		}
		// RemoveSignal closes nothing itself; closing all afterwards
		// lets the filter goroutine finish and close Signals.
		w.conn.RemoveSignal(w.all)
		close(w.all)
		if w.ownsConn {
			if err := w.conn.Close(); err != nil && w.closeErr == nil {
				w.closeErr = errors.Wrap(err, "failed to close private bus connection")
			}
		}
	})
	return w.closeErr
}
