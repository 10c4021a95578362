package dbusutil

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestMatchSpecString(t *testing.T) {
	spec := MatchSpec{
		Type:      "signal",
		Path:      dbus.ObjectPath("/org/example/Obj"),
		Interface: "org.example.Iface",
		Member:    "Changed",
	}
	const want = "type='signal',path='/org/example/Obj',interface='org.example.Iface',member='Changed'"
	if got := spec.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	partial := MatchSpec{Type: "signal", Member: "Changed"}
	if got, want := partial.String(), "type='signal',member='Changed'"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMatchSpecMatchesSignal(t *testing.T) {
	sig := &dbus.Signal{
		Path: dbus.ObjectPath("/org/example/Obj"),
		Name: "org.example.Iface.Changed",
		Body: []interface{}{"eth0"},
	}

	for _, tc := range []struct {
		name string
		spec MatchSpec
		want bool
	}{
		{"full match", MatchSpec{Path: "/org/example/Obj", Interface: "org.example.Iface", Member: "Changed", Arg0: "eth0"}, true},
		{"member only", MatchSpec{Member: "Changed"}, true},
		{"wrong member", MatchSpec{Member: "Removed"}, false},
		{"wrong interface", MatchSpec{Interface: "org.example.Other"}, false},
		{"wrong path", MatchSpec{Path: "/org/example/Other"}, false},
		{"wrong arg0", MatchSpec{Arg0: "eth1"}, false},
		{"empty spec matches anything", MatchSpec{}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.spec.MatchesSignal(sig); got != tc.want {
				t.Errorf("MatchesSignal() = %v, want %v", got, tc.want)
			}
		})
	}
}
