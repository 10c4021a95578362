// Package scenario drives end-to-end verification runs against a
// tethering daemon. Each scenario provisions a downstream link, starts
// a tethering session over D-Bus, acts as the client machine on the raw
// link, and checks the daemon's reporting against what the client
// actually negotiated.
package scenario

import (
	"context"
	"crypto/rand"
	"net"
	"sort"
	"time"

	"github.com/pkg/errors"

	"tethercheck/internal/tetherd"
	"tethercheck/internal/tuntap"
)

// Controller is the daemon control surface a scenario drives.
type Controller interface {
	StartTethering(ctx context.Context, req tetherd.Request) error
	StopTethering(ctx context.Context, t tetherd.Type) error
	PreferTestUpstreams(ctx context.Context, prefer bool) error
	Watch(ctx context.Context, iface tetherd.InterfaceIdentity) (Watcher, error)
}

// Watcher delivers awaitable daemon-side state transitions.
type Watcher interface {
	AwaitEntered(state tetherd.OperatingState, timeout time.Duration) error
	AwaitLeft(state tetherd.OperatingState, timeout time.Duration) error
	AwaitUntethered(timeout time.Duration) error
	AwaitClients(timeout time.Duration) ([]tetherd.ClientRecord, error)
	AwaitUpstream(timeout time.Duration) (tetherd.NetworkID, error)
	Err() error
	Unsubscribe()
}

// Link is the client side of a downstream link.
type Link interface {
	Name() string
	FD() int
	MTU() int
	Close() error
}

// LinkProvider provisions downstream links.
type LinkProvider interface {
	Create(ctx context.Context, name string, mtu int) (Link, error)
}

// DaemonController adapts tetherd.Manager to the Controller interface.
type DaemonController struct {
	Manager *tetherd.Manager
}

func (c DaemonController) StartTethering(ctx context.Context, req tetherd.Request) error {
	return c.Manager.StartTethering(ctx, req)
}

func (c DaemonController) StopTethering(ctx context.Context, t tetherd.Type) error {
	return c.Manager.StopTethering(ctx, t)
}

func (c DaemonController) PreferTestUpstreams(ctx context.Context, prefer bool) error {
	return c.Manager.PreferTestUpstreams(ctx, prefer)
}

func (c DaemonController) Watch(ctx context.Context, iface tetherd.InterfaceIdentity) (Watcher, error) {
	w, err := c.Manager.Watch(ctx, iface)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// TAPProvider provisions TAP devices.
type TAPProvider struct{}

func (TAPProvider) Create(ctx context.Context, name string, mtu int) (Link, error) {
	l, err := tuntap.Open(ctx, name, mtu)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// A Scenario is one registered verification run.
type Scenario struct {
	// Name identifies the scenario on the command line.
	Name string
	// Desc is a one-line description for listings.
	Desc string
	Run  func(ctx context.Context, r *Runner) error
}

var registry = map[string]Scenario{}

func register(s Scenario) {
	if _, ok := registry[s.Name]; ok {
		panic("duplicate scenario " + s.Name)
	}
	registry[s.Name] = s
}

// All returns every registered scenario, sorted by name.
func All() []Scenario {
	var all []Scenario
	for _, s := range registry {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup returns the named scenario.
func Lookup(name string) (Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return Scenario{}, errors.Errorf("unknown scenario %q", name)
	}
	return s, nil
}

// randomMAC returns a locally administered unicast MAC address.
func randomMAC() (net.HardwareAddr, error) {
	mac := make(net.HardwareAddr, 6)
	if _, err := rand.Read(mac); err != nil {
		return nil, errors.Wrap(err, "failed to generate MAC address")
	}
	mac[0] = (mac[0] | 0x02) &^ 0x01
	return mac, nil
}
