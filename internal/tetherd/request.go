package tetherd

import (
	"net/netip"

	"github.com/pkg/errors"

	"tethercheck/internal/faults"
)

// Scope selects the connectivity a tethering session provides.
type Scope int

const (
	// ScopeGlobal forwards an upstream network downstream.
	ScopeGlobal Scope = iota
	// ScopeLocal serves local-only connectivity with no upstream.
	ScopeLocal
)

func (s Scope) String() string {
	if s == ScopeLocal {
		return "local"
	}
	return "global"
}

// Request describes one tethering session to start. The zero prefixes
// mean dynamic addressing; static addressing requires both LocalAddress
// and ClientAddress.
type Request struct {
	Type  Type
	Scope Scope

	// LocalAddress is the static address the daemon assigns to the
	// downstream interface itself.
	LocalAddress netip.Prefix
	// ClientAddress is the single static address the daemon leases to
	// the first DHCP client.
	ClientAddress netip.Prefix
}

// NewRequest returns a request for a dynamically addressed,
// globally-scoped session on a link of the given type.
func NewRequest(t Type) Request {
	return Request{Type: t}
}

// NewLocalOnlyRequest returns a request for a local-only session.
func NewLocalOnlyRequest(t Type) Request {
	return Request{Type: t, Scope: ScopeLocal}
}

// NewStaticRequest returns a request with a static server/client address
// pair, parsed from CIDR notation. Contradictory configurations are
// rejected here, synchronously, before anything is sent to the daemon.
func NewStaticRequest(t Type, local, client string) (Request, error) {
	if local == "" || client == "" {
		return Request{}, errors.Wrap(faults.ErrInvalidConfiguration, "static addressing requires both a local and a client address")
	}
	localAddr, err := netip.ParsePrefix(local)
	if err != nil {
		return Request{}, errors.Wrapf(faults.ErrInvalidConfiguration, "bad local address %q: %v", local, err)
	}
	clientAddr, err := netip.ParsePrefix(client)
	if err != nil {
		return Request{}, errors.Wrapf(faults.ErrInvalidConfiguration, "bad client address %q: %v", client, err)
	}
	req := Request{Type: t, LocalAddress: localAddr, ClientAddress: clientAddr}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the request for self-contradictory static addressing.
// It never touches the daemon.
func (r Request) Validate() error {
	local, client := r.LocalAddress, r.ClientAddress
	if !local.IsValid() && !client.IsValid() {
		return nil
	}
	if !local.IsValid() || !client.IsValid() {
		return errors.Wrap(faults.ErrInvalidConfiguration, "static addressing requires both a local and a client address")
	}
	if !local.Addr().Is4() || !client.Addr().Is4() {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "static addresses must be IPv4, got %v and %v", local, client)
	}
	if local.Bits() != client.Bits() {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "prefix lengths differ: %v vs %v", local, client)
	}
	if local.Masked() != client.Masked() {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "addresses are not in the same subnet: %v vs %v", local, client)
	}
	if local.Addr() == client.Addr() {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "local and client address are identical: %v", local.Addr())
	}
	return nil
}

// properties encodes the request for StartTethering.
func (r Request) properties() map[string]interface{} {
	props := map[string]interface{}{
		"Type":  uint32(r.Type),
		"Scope": uint32(r.Scope),
	}
	if r.LocalAddress.IsValid() {
		props["LocalAddress"] = r.LocalAddress.String()
		props["ClientAddress"] = r.ClientAddress.String()
	}
	return props
}
