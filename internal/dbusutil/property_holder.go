package dbusutil

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// PropertyHolder provides methods to access properties of a D-Bus
// object. The object must provide GetProperties and SetProperty
// methods.
type PropertyHolder struct {
	*DBusObject
}

// NewPropertyHolder creates a DBus object with the given service,
// interface and path which can be used for accessing and setting
// properties.
func NewPropertyHolder(ctx context.Context, service, iface string, path dbus.ObjectPath) (*PropertyHolder, error) {
	dbusObject, err := NewDBusObject(ctx, service, iface, path)
	if err != nil {
		return nil, err
	}
	return &PropertyHolder{dbusObject}, nil
}

// GetProperties fetches a snapshot of the object's properties.
func (h *PropertyHolder) GetProperties(ctx context.Context) (*Properties, error) {
	return NewDBusProperties(ctx, h.DBusObject)
}

// SetProperty calls SetProperty on the interface to set property to the
// given value.
func (h *PropertyHolder) SetProperty(ctx context.Context, prop string, value interface{}) error {
	return h.Call(ctx, "SetProperty", prop, value).Err
}
