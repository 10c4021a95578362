// Package tetherd is the client side of the tethering control service:
// it starts and stops tethering sessions over D-Bus and tracks the
// asynchronous state-change notifications the daemon emits.
package tetherd

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Type identifies the class of downstream link being tethered.
type Type uint32

// Downstream link classes understood by the daemon.
const (
	TypeWifi Type = iota
	TypeUSB
	TypeBluetooth
	TypeEthernet
)

func (t Type) String() string {
	switch t {
	case TypeWifi:
		return "wifi"
	case TypeUSB:
		return "usb"
	case TypeBluetooth:
		return "bluetooth"
	case TypeEthernet:
		return "ethernet"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// OperatingState is the mode a downstream interface is serving in.
type OperatingState int

const (
	// StateTethered forwards an upstream network to downstream clients.
	StateTethered OperatingState = iota
	// StateLocalOnly provides link-local/ULA connectivity among
	// downstream clients without a forwarding upstream.
	StateLocalOnly
)

func (s OperatingState) String() string {
	switch s {
	case StateTethered:
		return "tethered"
	case StateLocalOnly:
		return "local-only"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InterfaceIdentity uniquely identifies one downstream link for the
// lifetime of a verification run. It is comparable and used as a
// set-membership key.
type InterfaceIdentity struct {
	Type Type
	Name string
}

func (i InterfaceIdentity) String() string {
	return i.Type.String() + "/" + i.Name
}

// NetworkID names an upstream network as reported by the daemon.
type NetworkID string

// AddressInfo is one address the daemon assigned to a connected client.
type AddressInfo struct {
	Address   netip.Prefix
	Hostname  string
	ExpiresAt time.Time
}

// ClientRecord is the daemon's view of one connected downstream client.
type ClientRecord struct {
	HardwareAddr net.HardwareAddr
	Type         Type
	Addresses    []AddressInfo
}

// Notification is one asynchronous message from the daemon, remodeled
// as a sum type so that the tracker is independent of the signal
// transport.
type Notification interface {
	notification()
}

// InterfaceSetChange carries a full snapshot (not a diff) of the
// interfaces currently in the given operating state.
type InterfaceSetChange struct {
	State      OperatingState
	Interfaces []InterfaceIdentity
}

// LegacyInterfaceListChange is the deprecated plain-name-list variant
// of InterfaceSetChange. A daemon that still emits it violates the
// notification protocol; the tracker treats it as fatal.
type LegacyInterfaceListChange struct {
	State OperatingState
	Names []string
}

// ClientsChange carries the daemon's current collection of connected
// client records.
type ClientsChange struct {
	Clients []ClientRecord
}

// UpstreamChange reports the upstream network currently selected for
// forwarding. An empty NetworkID means no upstream.
type UpstreamChange struct {
	Network NetworkID
}

// violation wraps a signal that could not be decoded into any known
// notification shape, so the tracker fails hard on it instead of the
// decoder guessing.
type violation struct {
	err error
}

func (InterfaceSetChange) notification()        {}
func (LegacyInterfaceListChange) notification() {}
func (ClientsChange) notification()             {}
func (UpstreamChange) notification()            {}
func (violation) notification()                 {}
