// Package tuntap provisions TAP devices. A TAP device gives the harness
// both sides of a downstream Ethernet link: the kernel half is handed
// to the tethering daemon as a downstream interface, while the file
// descriptor half lets the harness read and write raw frames as if it
// were the tethered client machine.
package tuntap

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// ifnamsiz is IFNAMSIZ minus the trailing NUL.
const ifnamsiz = 15

// Link is an open TAP device. The device exists for the lifetime of the
// descriptor and disappears on Close.
type Link struct {
	name string
	fd   int
	mtu  int
}

// Open creates a TAP device with the given name and MTU and brings the
// kernel side of the link up.
func Open(ctx context.Context, name string, mtu int) (*Link, error) {
	if name == "" || len(name) > ifnamsiz {
		return nil, errors.Errorf("bad TAP device name %q", name)
	}

	fd, err := unix.Open(tunDevice, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", tunDevice)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bad interface name %q", name)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "failed to create TAP device %s", name)
	}

	l := &Link{name: name, fd: fd, mtu: mtu}
	if err := l.configure(ctx); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *Link) configure(ctx context.Context) error {
	if err := ipCmd(ctx, "link", "set", l.name, "mtu", strconv.Itoa(l.mtu)); err != nil {
		return err
	}
	return ipCmd(ctx, "link", "set", l.name, "up")
}

// Name returns the interface name as visible to the host stack.
func (l *Link) Name() string {
	return l.name
}

// FD returns the descriptor carrying the client side of the link. Reads
// return whole Ethernet frames; writes inject whole frames.
func (l *Link) FD() int {
	return l.fd
}

// MTU returns the MTU the link was configured with.
func (l *Link) MTU() int {
	return l.mtu
}

// Close releases the descriptor, which also removes the device.
func (l *Link) Close() error {
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	if err := unix.Close(fd); err != nil {
		return errors.Wrapf(err, "failed to close TAP device %s", l.name)
	}
	return nil
}

func ipCmd(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "ip", args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "ip %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}
