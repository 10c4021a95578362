package dbusutil

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
)

func testProperties() *Properties {
	return &Properties{props: map[string]interface{}{
		"Name":        "tether0",
		"Interfaces":  []string{"tether0", "tether1"},
		"Enabled":     true,
		"WrappedName": dbus.MakeVariant("tether2"),
	}}
}

func TestPropertiesHas(t *testing.T) {
	p := testProperties()
	if !p.Has("Name") {
		t.Error("Has(Name) = false, want true")
	}
	if p.Has("Missing") {
		t.Error("Has(Missing) = true, want false")
	}
}

func TestPropertiesGet(t *testing.T) {
	p := testProperties()

	name, err := p.GetString("Name")
	if err != nil || name != "tether0" {
		t.Errorf("GetString(Name) = %q, %v; want tether0, nil", name, err)
	}
	// Variant-wrapped values are unwrapped transparently.
	wrapped, err := p.GetString("WrappedName")
	if err != nil || wrapped != "tether2" {
		t.Errorf("GetString(WrappedName) = %q, %v; want tether2, nil", wrapped, err)
	}

	ifaces, err := p.GetStrings("Interfaces")
	if err != nil {
		t.Fatalf("GetStrings(Interfaces) failed: %v", err)
	}
	if diff := cmp.Diff([]string{"tether0", "tether1"}, ifaces); diff != "" {
		t.Errorf("GetStrings(Interfaces) mismatch (-want +got):\n%s", diff)
	}

	enabled, err := p.GetBool("Enabled")
	if err != nil || !enabled {
		t.Errorf("GetBool(Enabled) = %t, %v; want true, nil", enabled, err)
	}
}

func TestPropertiesGetErrors(t *testing.T) {
	p := testProperties()

	if _, err := p.Get("Missing"); err == nil {
		t.Error("Get(Missing) unexpectedly succeeded")
	}
	if _, err := p.GetString("Enabled"); err == nil {
		t.Error("GetString of a bool unexpectedly succeeded")
	}
	if _, err := p.GetStrings("Name"); err == nil {
		t.Error("GetStrings of a string unexpectedly succeeded")
	}
	if _, err := p.GetBool("Name"); err == nil {
		t.Error("GetBool of a string unexpectedly succeeded")
	}
}
