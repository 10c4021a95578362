package tetherd

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

const awaitTimeout = 5 * time.Second

var watchedIface = InterfaceIdentity{Type: TypeEthernet, Name: "tetherdown0"}

// drain sends a no-op notification on ch and returns once the watcher
// has received it. The channel is unbuffered, so receipt implies every
// previously sent notification has been fully handled.
func drain(ch chan Notification) {
	ch <- UpstreamChange{}
}

func snapshot(state OperatingState, ifaces ...InterfaceIdentity) InterfaceSetChange {
	return InterfaceSetChange{State: state, Interfaces: ifaces}
}

func TestEventWatcherEnteredAndLeft(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	other := InterfaceIdentity{Type: TypeWifi, Name: "wlan0"}
	ch <- snapshot(StateTethered, other)
	ch <- snapshot(StateTethered, other, watchedIface)
	if err := w.AwaitEntered(StateTethered, awaitTimeout); err != nil {
		t.Fatalf("AwaitEntered failed: %v", err)
	}

	ch <- snapshot(StateTethered, other)
	if err := w.AwaitLeft(StateTethered, awaitTimeout); err != nil {
		t.Fatalf("AwaitLeft failed: %v", err)
	}
}

func TestEventWatcherRepeatedSnapshotsFireOnce(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	// Identical containing snapshots must count as one entry, not an
	// entry per delivery, so no exit edge may be synthesized.
	ch <- snapshot(StateTethered, watchedIface)
	ch <- snapshot(StateTethered, watchedIface)
	ch <- snapshot(StateTethered, watchedIface)
	drain(ch)

	if !w.entered[StateTethered].fired() {
		t.Error("entered gate did not fire")
	}
	if w.left[StateTethered].fired() {
		t.Error("left gate fired without the interface disappearing")
	}
	if err := w.AwaitLeft(StateTethered, 10*time.Millisecond); !errors.Is(err, faults.ErrTimeout) {
		t.Errorf("AwaitLeft = %v, want ErrTimeout", err)
	}
}

func TestEventWatcherAbsenceBeforeEntryIsNotAnExit(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	ch <- snapshot(StateTethered)
	ch <- snapshot(StateTethered)
	drain(ch)

	if w.left[StateTethered].fired() {
		t.Error("left gate fired before the interface ever entered the state")
	}
}

func TestEventWatcherStatesAreIndependent(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	ch <- snapshot(StateLocalOnly, watchedIface)
	if err := w.AwaitEntered(StateLocalOnly, awaitTimeout); err != nil {
		t.Fatalf("AwaitEntered(local-only) failed: %v", err)
	}
	drain(ch)
	if w.entered[StateTethered].fired() {
		t.Error("local-only snapshot fired the tethered gate")
	}
}

func TestEventWatcherDiscardsStaleAfterUnsubscribe(t *testing.T) {
	stopped := 0
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, func() { stopped++ })
	defer close(ch)

	ch <- snapshot(StateTethered, watchedIface)
	if err := w.AwaitEntered(StateTethered, awaitTimeout); err != nil {
		t.Fatalf("AwaitEntered failed: %v", err)
	}

	w.Unsubscribe()
	w.Unsubscribe()
	if stopped != 1 {
		t.Errorf("stop invoked %d times, want 1", stopped)
	}

	// A removal delivered after unsubscription is stale and must not
	// flip any gate.
	ch <- snapshot(StateTethered)
	drain(ch)
	if w.left[StateTethered].fired() {
		t.Error("stale snapshot fired the left gate after Unsubscribe")
	}
}

func TestEventWatcherLegacyListPoisons(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	ch <- LegacyInterfaceListChange{State: StateTethered, Names: []string{watchedIface.Name}}

	if err := w.AwaitEntered(StateTethered, awaitTimeout); !errors.Is(err, faults.ErrProtocolViolation) {
		t.Errorf("AwaitEntered after legacy list = %v, want ErrProtocolViolation", err)
	}
	if _, err := w.AwaitClients(awaitTimeout); !errors.Is(err, faults.ErrProtocolViolation) {
		t.Errorf("AwaitClients after legacy list = %v, want ErrProtocolViolation", err)
	}
	if err := w.Err(); !errors.Is(err, faults.ErrProtocolViolation) {
		t.Errorf("Err() = %v, want ErrProtocolViolation", err)
	}
}

func TestEventWatcherClients(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	ch <- ClientsChange{}
	drain(ch)
	if w.clientsGate.fired() {
		t.Error("empty client collection fired the clients gate")
	}

	want := []ClientRecord{{
		HardwareAddr: net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		Type:         TypeEthernet,
		Addresses: []AddressInfo{{
			Address:   netip.MustParsePrefix("192.0.2.2/28"),
			Hostname:  "tethercheck-client",
			ExpiresAt: time.UnixMilli(1700000000000),
		}},
	}}
	ch <- ClientsChange{Clients: want}
	got, err := w.AwaitClients(awaitTimeout)
	if err != nil {
		t.Fatalf("AwaitClients failed: %v", err)
	}
	prefixCmp := cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })
	if diff := cmp.Diff(want, got, prefixCmp); diff != "" {
		t.Errorf("client records mismatch (-want +got):\n%s", diff)
	}
}

func TestEventWatcherUpstream(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	// Empty announcements mean "no upstream yet" and must not fire.
	ch <- UpstreamChange{}
	drain(ch)
	if w.upstreamGate.fired() {
		t.Error("empty upstream announcement fired the upstream gate")
	}

	ch <- UpstreamChange{Network: "net-1"}
	got, err := w.AwaitUpstream(awaitTimeout)
	if err != nil {
		t.Fatalf("AwaitUpstream failed: %v", err)
	}
	if got != "net-1" {
		t.Errorf("AwaitUpstream = %q, want %q", got, "net-1")
	}

	// Later selections replace the stored network.
	ch <- UpstreamChange{Network: "net-2"}
	drain(ch)
	if got, err := w.AwaitUpstream(awaitTimeout); err != nil || got != "net-2" {
		t.Errorf("AwaitUpstream after reselection = %q, %v; want %q, nil", got, err, "net-2")
	}
}

func TestEventWatcherAwaitUntethered(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	// Never entered: teardown must not block.
	if err := w.AwaitUntethered(awaitTimeout); err != nil {
		t.Fatalf("AwaitUntethered before any entry = %v", err)
	}

	ch <- snapshot(StateLocalOnly, watchedIface)
	if err := w.AwaitEntered(StateLocalOnly, awaitTimeout); err != nil {
		t.Fatalf("AwaitEntered failed: %v", err)
	}
	ch <- snapshot(StateLocalOnly)
	if err := w.AwaitUntethered(awaitTimeout); err != nil {
		t.Fatalf("AwaitUntethered after exit = %v", err)
	}
}

func TestEventWatcherAwaitTimeout(t *testing.T) {
	ch := make(chan Notification)
	w := NewEventWatcher(watchedIface, ch, nil)
	defer close(ch)

	if err := w.AwaitEntered(StateTethered, 10*time.Millisecond); !errors.Is(err, faults.ErrTimeout) {
		t.Errorf("AwaitEntered with no notifications = %v, want ErrTimeout", err)
	}
}
