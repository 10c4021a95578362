package tetherd

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"tethercheck/internal/dbusutil"
	"tethercheck/internal/faults"
)

const (
	dbusService          = "org.tetherd"
	dbusManagerPath      = dbus.ObjectPath("/org/tetherd/Manager")
	dbusManagerInterface = "org.tetherd.Manager"
)

// Signal members the daemon emits towards listeners.
const (
	signalTetheredChanged  = "TetheredInterfacesChanged"
	signalLocalOnlyChanged = "LocalOnlyInterfacesChanged"
	signalClientsChanged   = "TetheredClientsChanged"
	signalUpstreamChanged  = "UpstreamChanged"
)

// Manager property names.
const (
	// ManagerPropertyTetheredInterfaces lists interface names currently
	// tethered.
	ManagerPropertyTetheredInterfaces = "TetheredInterfaces"
	// ManagerPropertyUpstreamNetwork names the currently selected
	// upstream, empty when none.
	ManagerPropertyUpstreamNetwork = "UpstreamNetwork"
	// ManagerPropertyPreferTestUpstreams makes test networks win
	// upstream selection over real connectivity.
	ManagerPropertyPreferTestUpstreams = "PreferTestUpstreams"
)

// Manager wraps the daemon's Manager D-Bus object.
type Manager struct {
	*dbusutil.PropertyHolder
}

// NewManager connects to the tethering daemon's Manager.
func NewManager(ctx context.Context) (*Manager, error) {
	ph, err := dbusutil.NewPropertyHolder(ctx, dbusService, dbusManagerInterface, dbusManagerPath)
	if err != nil {
		return nil, err
	}
	return &Manager{PropertyHolder: ph}, nil
}

// StartTethering asks the daemon to start the session described by req.
// A contradictory request fails synchronously with
// faults.ErrInvalidConfiguration before anything reaches the bus.
func (m *Manager) StartTethering(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := m.Call(ctx, "StartTethering", req.properties()).Err; err != nil {
		if dbusutil.IsDBusError(err, "org.freedesktop.DBus.Error.InvalidArgs") {
			return errors.Wrapf(faults.ErrInvalidConfiguration, "daemon rejected request: %v", err)
		}
		return errors.Wrap(err, "failed to start tethering")
	}
	return nil
}

// StopTethering stops the session of the given link type.
func (m *Manager) StopTethering(ctx context.Context, t Type) error {
	if err := m.Call(ctx, "StopTethering", uint32(t)).Err; err != nil {
		return errors.Wrap(err, "failed to stop tethering")
	}
	return nil
}

// PreferTestUpstreams tells the daemon whether test networks should win
// upstream selection over real connectivity.
func (m *Manager) PreferTestUpstreams(ctx context.Context, prefer bool) error {
	if err := m.SetProperty(ctx, ManagerPropertyPreferTestUpstreams, prefer); err != nil {
		return errors.Wrap(err, "failed to set upstream preference")
	}
	return nil
}

// Watch subscribes to the daemon's notification signals and returns an
// EventWatcher tracking iface. The caller must call Unsubscribe on the
// returned watcher when done.
func (m *Manager) Watch(ctx context.Context, iface InterfaceIdentity) (*EventWatcher, error) {
	specs := make([]dbusutil.MatchSpec, 0, 4)
	for _, member := range []string{
		signalTetheredChanged, signalLocalOnlyChanged, signalClientsChanged, signalUpstreamChanged,
	} {
		specs = append(specs, dbusutil.MatchSpec{
			Type:      "signal",
			Path:      m.ObjectPath(),
			Interface: dbusManagerInterface,
			Member:    member,
		})
	}
	// A dedicated bus connection keeps the daemon's signal traffic off
	// the shared connection carrying our method calls.
	sw, err := dbusutil.NewSignalWatcherForSystemBus(ctx, specs...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to watch daemon signals")
	}

	ch := make(chan Notification)
	go func() {
		defer close(ch)
		for sig := range sw.Signals {
			n, err := notificationFromSignal(sig)
			if err != nil {
				// An undecodable signal is the same protocol breach as
				// a legacy-shaped one; surface it through the tracker.
				n = violation{err: err}
			}
			ch <- n
		}
	}()

	stop := func() { sw.Close(context.Background()) }
	return NewEventWatcher(iface, ch, stop), nil
}

// notificationFromSignal decodes one daemon signal into a Notification.
func notificationFromSignal(sig *dbus.Signal) (Notification, error) {
	member := sig.Name
	if i := len(dbusManagerInterface) + 1; len(member) > i && member[:i] == dbusManagerInterface+"." {
		member = member[i:]
	}
	switch member {
	case signalTetheredChanged:
		return interfaceChangeFromBody(StateTethered, sig.Body)
	case signalLocalOnlyChanged:
		return interfaceChangeFromBody(StateLocalOnly, sig.Body)
	case signalClientsChanged:
		return clientsChangeFromBody(sig.Body)
	case signalUpstreamChanged:
		return upstreamChangeFromBody(sig.Body)
	default:
		return nil, errors.Errorf("unexpected signal %s", sig.Name)
	}
}

// interfaceChangeFromBody decodes either the identity-set body
// (array of (type, name) structs) or the deprecated plain name list.
// The latter is returned as LegacyInterfaceListChange so the tracker
// can fail hard on it rather than this decoder guessing types.
func interfaceChangeFromBody(state OperatingState, body []interface{}) (Notification, error) {
	if len(body) != 1 {
		return nil, errors.Errorf("interface change carries %d arguments, want 1", len(body))
	}
	switch arg := body[0].(type) {
	case []string:
		return LegacyInterfaceListChange{State: state, Names: arg}, nil
	case [][]interface{}:
		ifaces := make([]InterfaceIdentity, 0, len(arg))
		for _, raw := range arg {
			if len(raw) != 2 {
				return nil, errors.Errorf("interface identity has %d fields, want 2", len(raw))
			}
			t, ok := raw[0].(uint32)
			if !ok {
				return nil, errors.Errorf("interface type has type %T, want uint32", raw[0])
			}
			name, ok := raw[1].(string)
			if !ok {
				return nil, errors.Errorf("interface name has type %T, want string", raw[1])
			}
			ifaces = append(ifaces, InterfaceIdentity{Type: Type(t), Name: name})
		}
		return InterfaceSetChange{State: state, Interfaces: ifaces}, nil
	default:
		return nil, errors.Errorf("interface change body has type %T", body[0])
	}
}

// clientsChangeFromBody decodes a client collection: an array of
// (type, hwaddr, addresses) structs where addresses is an array of
// (cidr, hostname, expiry-unix-milli) structs.
func clientsChangeFromBody(body []interface{}) (Notification, error) {
	if len(body) != 1 {
		return nil, errors.Errorf("clients change carries %d arguments, want 1", len(body))
	}
	raw, ok := body[0].([][]interface{})
	if !ok {
		return nil, errors.Errorf("clients change body has type %T", body[0])
	}
	clients := make([]ClientRecord, 0, len(raw))
	for _, rc := range raw {
		if len(rc) != 3 {
			return nil, errors.Errorf("client record has %d fields, want 3", len(rc))
		}
		t, ok := rc[0].(uint32)
		if !ok {
			return nil, errors.Errorf("client type has type %T, want uint32", rc[0])
		}
		hw, ok := rc[1].(string)
		if !ok {
			return nil, errors.Errorf("client hwaddr has type %T, want string", rc[1])
		}
		hwaddr, err := net.ParseMAC(hw)
		if err != nil {
			return nil, errors.Wrapf(err, "bad client hwaddr %q", hw)
		}
		rawAddrs, ok := rc[2].([][]interface{})
		if !ok {
			return nil, errors.Errorf("client addresses have type %T", rc[2])
		}
		addrs := make([]AddressInfo, 0, len(rawAddrs))
		for _, ra := range rawAddrs {
			info, err := addressInfoFromBody(ra)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, info)
		}
		clients = append(clients, ClientRecord{HardwareAddr: hwaddr, Type: Type(t), Addresses: addrs})
	}
	return ClientsChange{Clients: clients}, nil
}

func addressInfoFromBody(raw []interface{}) (AddressInfo, error) {
	if len(raw) != 3 {
		return AddressInfo{}, errors.Errorf("address info has %d fields, want 3", len(raw))
	}
	cidr, ok := raw[0].(string)
	if !ok {
		return AddressInfo{}, errors.Errorf("address has type %T, want string", raw[0])
	}
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return AddressInfo{}, errors.Wrapf(err, "bad assigned address %q", cidr)
	}
	hostname, ok := raw[1].(string)
	if !ok {
		return AddressInfo{}, errors.Errorf("hostname has type %T, want string", raw[1])
	}
	expiry, ok := raw[2].(int64)
	if !ok {
		return AddressInfo{}, errors.Errorf("expiry has type %T, want int64", raw[2])
	}
	return AddressInfo{
		Address:   prefix,
		Hostname:  hostname,
		ExpiresAt: time.UnixMilli(expiry),
	}, nil
}

func upstreamChangeFromBody(body []interface{}) (Notification, error) {
	if len(body) != 1 {
		return nil, errors.Errorf("upstream change carries %d arguments, want 1", len(body))
	}
	id, ok := body[0].(string)
	if !ok {
		return nil, errors.Errorf("upstream change body has type %T, want string", body[0])
	}
	return UpstreamChange{Network: NetworkID(id)}, nil
}
