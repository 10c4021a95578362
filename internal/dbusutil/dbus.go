// Package dbusutil provides additional functionality on top of the
// godbus/dbus package.
package dbusutil

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// busMethod names the org.freedesktop.DBus methods used below.
const (
	dbusInterface      = "org.freedesktop.DBus"
	addMatchMethod     = dbusInterface + ".AddMatch"
	removeMatchMethod  = dbusInterface + ".RemoveMatch"
	nameHasOwnerMethod = dbusInterface + ".NameHasOwner"
)

// SystemBus returns a connection to the system bus shared within the
// process.
func SystemBus() (*dbus.Conn, error) {
	return dbus.SystemBus()
}

// SystemBusPrivate returns an authenticated private connection to the
// system bus. The caller owns the connection and must close it.
func SystemBusPrivate() (*dbus.Conn, error) {
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to authenticate on system bus")
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to send hello on system bus")
	}
	return conn, nil
}

// Connect sets up the D-Bus connection to the service specified by name
// and path. The connection is ready to be used when the service is
// running on the bus.
func Connect(ctx context.Context, name string, path dbus.ObjectPath) (*dbus.Conn, dbus.BusObject, error) {
	conn, err := SystemBus()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to system bus")
	}
	if err := WaitForService(ctx, conn, name); err != nil {
		return nil, nil, errors.Wrapf(err, "failed waiting for service %s", name)
	}
	return conn, conn.Object(name, path), nil
}

// WaitForService blocks until a process owns name on conn, polling the
// bus since service startup is not synchronized with ours.
func WaitForService(ctx context.Context, conn *dbus.Conn, name string) error {
	for {
		var owned bool
		if err := conn.BusObject().CallWithContext(ctx, nameHasOwnerMethod, 0, name).Store(&owned); err != nil {
			return errors.Wrapf(err, "failed to check ownership of %s", name)
		}
		if owned {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "service %s never appeared on the bus", name)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// DBusObject wraps a D-Bus object together with the interface its
// methods live on.
type DBusObject struct {
	svc   string
	iface string
	obj   dbus.BusObject
}

// NewDBusObject connects to the service owning path and returns a
// wrapper for it.
func NewDBusObject(ctx context.Context, svc, iface string, path dbus.ObjectPath) (*DBusObject, error) {
	_, obj, err := Connect(ctx, svc, path)
	if err != nil {
		return nil, err
	}
	return &DBusObject{svc: svc, iface: iface, obj: obj}, nil
}

// String returns the service and path of the wrapped object, so a
// DBusObject can be logged directly.
func (d *DBusObject) String() string {
	return d.svc + ":" + string(d.obj.Path())
}

// ObjectPath returns the path of the wrapped object.
func (d *DBusObject) ObjectPath() dbus.ObjectPath {
	return d.obj.Path()
}

// Call calls the named method on the object's interface.
func (d *DBusObject) Call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	return d.obj.CallWithContext(ctx, fmt.Sprintf("%s.%s", d.iface, method), 0, args...)
}

// IsDBusError returns true if err is a D-Bus error with the given name.
func IsDBusError(err error, name string) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == name
	}
	return false
}
