package dbusutil

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// Properties holds a snapshot of a D-Bus object's properties as
// returned by its GetProperties method.
type Properties struct {
	props map[string]interface{}
}

// NewDBusProperties fetches and returns the object's properties.
func NewDBusProperties(ctx context.Context, d *DBusObject) (*Properties, error) {
	props := make(map[string]interface{})
	if err := d.Call(ctx, "GetProperties").Store(&props); err != nil {
		return nil, errors.Wrap(err, "failed getting properties")
	}
	return &Properties{props: props}, nil
}

// Has returns whether the property named p exists in the snapshot.
func (p *Properties) Has(prop string) bool {
	_, ok := p.props[prop]
	return ok
}

// Get returns the value of the property named prop.
func (p *Properties) Get(prop string) (interface{}, error) {
	value, ok := p.props[prop]
	if !ok {
		return nil, errors.Errorf("property %s does not exist", prop)
	}
	if v, ok := value.(dbus.Variant); ok {
		return v.Value(), nil
	}
	return value, nil
}

// GetString returns the string property named prop.
func (p *Properties) GetString(prop string) (string, error) {
	value, err := p.Get(prop)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", errors.Errorf("property %s is not a string: %v", prop, value)
	}
	return s, nil
}

// GetStrings returns the string-list property named prop.
func (p *Properties) GetStrings(prop string) ([]string, error) {
	value, err := p.Get(prop)
	if err != nil {
		return nil, err
	}
	s, ok := value.([]string)
	if !ok {
		return nil, errors.Errorf("property %s is not a string list: %v", prop, value)
	}
	return s, nil
}

// GetBool returns the boolean property named prop.
func (p *Properties) GetBool(prop string) (bool, error) {
	value, err := p.Get(prop)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, errors.Errorf("property %s is not a bool: %v", prop, value)
	}
	return b, nil
}
