// Package netiface inspects the host's network interfaces through
// sysfs and the netlink-backed net package. The harness uses it to
// verify the addresses a tethering session actually configured on a
// downstream link.
package netiface

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const sysClassNet = "/sys/class/net"

// List returns the names of all network interfaces on the host.
func List() ([]string, error) {
	files, err := os.ReadDir(sysClassNet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list interfaces")
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name()
	}
	return names, nil
}

// Exists reports whether an interface with the given name is present.
func Exists(name string) bool {
	_, err := os.Stat(filepath.Join(sysClassNet, name))
	return err == nil
}

// MTU returns the configured MTU of the named interface.
func MTU(name string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(sysClassNet, name, "mtu"))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read MTU of %s", name)
	}
	mtu, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "malformed MTU of %s", name)
	}
	return mtu, nil
}

// HardwareAddr returns the MAC address of the named interface.
func HardwareAddr(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up %s", name)
	}
	return iface.HardwareAddr, nil
}

// Addrs returns all addresses assigned to the named interface.
func Addrs(name string) ([]netip.Prefix, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up %s", name)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read addresses of %s", name)
	}
	var prefixes []netip.Prefix
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), ones))
	}
	return prefixes, nil
}

// HasAddr reports whether the named interface carries the given address.
func HasAddr(name string, want netip.Prefix) (bool, error) {
	prefixes, err := Addrs(name)
	if err != nil {
		return false, err
	}
	for _, p := range prefixes {
		if p == want {
			return true, nil
		}
	}
	return false, nil
}

var ulaPrefix = netip.MustParsePrefix("fc00::/7")

// IsULA reports whether addr is an IPv6 unique local address.
func IsULA(addr netip.Addr) bool {
	return addr.Is6() && !addr.Is4In6() && ulaPrefix.Contains(addr)
}

// IsGlobalPreferred reports whether addr is a globally routable IPv6
// address. Unique local addresses are global unicast by the stdlib's
// classification but are not routable beyond the site, so they are
// excluded here.
func IsGlobalPreferred(addr netip.Addr) bool {
	return addr.Is6() && !addr.Is4In6() && addr.IsGlobalUnicast() && !IsULA(addr)
}

// CheckLocalOnlyAddrs verifies that the named interface is addressed
// for local-only service: at least one IPv6 unique local address and no
// globally routable IPv6 address.
func CheckLocalOnlyAddrs(name string) error {
	prefixes, err := Addrs(name)
	if err != nil {
		return err
	}
	haveULA := false
	for _, p := range prefixes {
		if IsULA(p.Addr()) {
			haveULA = true
		}
		if IsGlobalPreferred(p.Addr()) {
			return errors.Errorf("%s carries global IPv6 address %v during local-only service", name, p)
		}
	}
	if !haveULA {
		return errors.Errorf("%s has no unique local IPv6 address, got %v", name, prefixes)
	}
	return nil
}
