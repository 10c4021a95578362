package scenario

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"

	"tethercheck/internal/dhcp"
	"tethercheck/internal/tetherd"
)

func init() {
	register(Scenario{
		Name: "virtual-link",
		Desc: "Tether a virtual link, lease an address over DHCP, and check the daemon's client record against the lease",
		Run:  runVirtualLink,
	})
}

func runVirtualLink(ctx context.Context, r *Runner) (retErr error) {
	s, err := r.beginVirtual(ctx, tetherd.NewRequest(tetherd.TypeEthernet))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.end(ctx); err != nil && retErr == nil {
			retErr = err
		}
	}()

	if err := s.watcher.AwaitEntered(tetherd.StateTethered, s.stateTimeout()); err != nil {
		return err
	}

	mac, err := randomMAC()
	if err != nil {
		return err
	}
	lease, err := dhcp.RunSession(mac, s.reader, time.Duration(r.cfg.Timeouts.DHCP))
	if err != nil {
		return errors.Wrap(err, "client failed to negotiate a lease")
	}
	r.log.WithField("lease", lease.Addr).Info("Client leased an address")

	clients, err := s.watcher.AwaitClients(time.Duration(r.cfg.Timeouts.Clients))
	if err != nil {
		return err
	}
	return matchClientRecord(r.cfg, clients, mac, lease)
}

// matchClientRecord checks that the daemon reported the client exactly
// as the client negotiated it. Lease expiry is compared with tolerance:
// the daemon and the client stamp the lease at slightly different
// moments.
func matchClientRecord(cfg Config, clients []tetherd.ClientRecord, mac net.HardwareAddr, lease *dhcp.Lease) error {
	var record *tetherd.ClientRecord
	for i := range clients {
		if bytes.Equal(clients[i].HardwareAddr, mac) {
			record = &clients[i]
			break
		}
	}
	if record == nil {
		return errors.Errorf("daemon reported no client with address %s, got %+v", mac, clients)
	}

	want := tetherd.AddressInfo{
		Address:   lease.Addr,
		Hostname:  lease.Hostname,
		ExpiresAt: time.Now().Add(lease.Duration),
	}
	opts := []cmp.Option{
		cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
		cmpopts.EquateApproxTime(time.Duration(cfg.LeaseSkew)),
	}
	for _, addr := range record.Addresses {
		if addr.Address != lease.Addr {
			continue
		}
		if diff := cmp.Diff(want, addr, opts...); diff != "" {
			return errors.Errorf("client record mismatch (-leased +reported):\n%s", diff)
		}
		return nil
	}
	return errors.Errorf("daemon reported client %s without the leased address %v, got %+v", mac, lease.Addr, record.Addresses)
}
