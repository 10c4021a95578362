package tuntap

import (
	"context"
	"testing"

	"golang.org/x/sys/unix"

	"tethercheck/internal/netiface"
)

// openTAP creates a TAP device and skips the test when the environment
// does not permit it (no /dev/net/tun or no CAP_NET_ADMIN).
func openTAP(t *testing.T, name string) *Link {
	t.Helper()
	l, err := Open(context.Background(), name, 1500)
	if err != nil {
		if errno, ok := unwrapErrno(err); ok && (errno == unix.EPERM || errno == unix.ENOENT || errno == unix.ENODEV) {
			t.Skipf("cannot create TAP devices here: %v", err)
		}
		t.Fatalf("Open failed: %v", err)
	}
	return l
}

func unwrapErrno(err error) (unix.Errno, bool) {
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

func TestOpenCreatesInterface(t *testing.T) {
	l := openTAP(t, "tapcheck0")
	defer l.Close()

	if !netiface.Exists(l.Name()) {
		t.Errorf("interface %s not present after Open", l.Name())
	}
	mtu, err := netiface.MTU(l.Name())
	if err != nil {
		t.Fatalf("MTU failed: %v", err)
	}
	if mtu != 1500 {
		t.Errorf("MTU = %d, want 1500", mtu)
	}
}

func TestCloseRemovesInterface(t *testing.T) {
	l := openTAP(t, "tapcheck1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if netiface.Exists(l.Name()) {
		t.Errorf("interface %s still present after Close", l.Name())
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestOpenRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "a-name-way-past-ifnamsiz"} {
		if _, err := Open(context.Background(), name, 1500); err == nil {
			t.Errorf("Open(%q) unexpectedly succeeded", name)
		}
	}
}
