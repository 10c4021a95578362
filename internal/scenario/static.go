package scenario

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"tethercheck/internal/dhcp"
	"tethercheck/internal/faults"
	"tethercheck/internal/netiface"
	"tethercheck/internal/tetherd"
)

func init() {
	register(Scenario{
		Name: "static-addressing",
		Desc: "Reject contradictory static configurations, then serve exactly one statically addressed lease",
		Run:  runStaticAddressing,
	})
}

// invalidStaticPairs are configurations the harness must reject before
// anything reaches the daemon.
var invalidStaticPairs = []struct{ local, client string }{
	{"", ""},
	{"2001:db8::1/64", "2001:db8:2::/64"},
	{"192.0.2.2/28", "2001:db8:2::/28"},
	{"2001:db8:2::/28", "192.0.2.2/28"},
	{"192.0.2.2/28", ""},
	{"", "192.0.2.2/28"},
	{"192.0.2.3/27", "192.0.2.2/28"},
}

func runStaticAddressing(ctx context.Context, r *Runner) (retErr error) {
	for _, tc := range invalidStaticPairs {
		if _, err := tetherd.NewStaticRequest(tetherd.TypeEthernet, tc.local, tc.client); !errors.Is(err, faults.ErrInvalidConfiguration) {
			return errors.Errorf("static pair (%q, %q) was not rejected, got %v", tc.local, tc.client, err)
		}
	}

	st := r.cfg.Static
	localAddr, err := netip.ParsePrefix(st.LocalAddress)
	if err != nil {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "bad configured local address %q: %v", st.LocalAddress, err)
	}
	clientAddr, err := netip.ParsePrefix(st.ClientAddress)
	if err != nil {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "bad configured client address %q: %v", st.ClientAddress, err)
	}
	mac, err := net.ParseMAC(st.ClientMAC)
	if err != nil {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "bad configured client MAC %q: %v", st.ClientMAC, err)
	}
	req, err := tetherd.NewStaticRequest(tetherd.TypeEthernet, st.LocalAddress, st.ClientAddress)
	if err != nil {
		return err
	}

	s, err := r.beginVirtual(ctx, req)
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

	// The daemon must have configured the server side of the subnet on
	// the downstream interface before any client can be served.
	hasLocal, err := netiface.HasAddr(s.iface.Name, localAddr)
	if err != nil {
		return err
	}
	if !hasLocal {
		return errors.Errorf("downstream %s does not carry the configured local address %v", s.iface.Name, localAddr)
	}

	lease, err := dhcp.RunSession(mac, s.reader, time.Duration(r.cfg.Timeouts.DHCP))
	if err != nil {
		return errors.Wrap(err, "static client failed to negotiate a lease")
	}
	if lease.Addr != clientAddr {
		return errors.Errorf("static client leased %v, want the configured %v", lease.Addr, clientAddr)
	}

	// The single static address is taken now; a second client must not
	// receive a lease while the first one stands.
	secondMAC, err := randomMAC()
	if err != nil {
		return err
	}
	second, err := dhcp.RunSession(secondMAC, s.reader, time.Duration(r.cfg.Timeouts.DHCP))
	if err == nil {
		return errors.Errorf("second client unexpectedly leased %v while the static address was taken", second.Addr)
	}
	if !errors.Is(err, faults.ErrTimeout) {
		return errors.Wrap(err, "second client failed for the wrong reason")
	}
	return nil
}
