package scenario

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tethercheck/internal/faults"
)

// Duration decodes YAML scalars like "30s" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "bad duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Timeouts bounds every blocking step of a scenario.
type Timeouts struct {
	// State bounds waits for tethering state transitions.
	State Duration `yaml:"state"`
	// DHCP bounds one full DHCP exchange, both round trips together.
	DHCP Duration `yaml:"dhcp"`
	// RouterAdvert bounds the wait for the first router advertisement.
	RouterAdvert Duration `yaml:"router_advert"`
	// Clients bounds the wait for the first reported client.
	Clients Duration `yaml:"clients"`
	// Upstream bounds the wait for the first upstream selection.
	Upstream Duration `yaml:"upstream"`
	// Teardown bounds the untethering wait during cleanup.
	Teardown Duration `yaml:"teardown"`
}

// Static holds the addressing of the static-configuration scenario.
type Static struct {
	LocalAddress  string `yaml:"local_address"`
	ClientAddress string `yaml:"client_address"`
	ClientMAC     string `yaml:"client_mac"`
}

// Config is the scenario runner configuration.
type Config struct {
	// Interface is the physical downstream interface, used only by the
	// physical-link scenario.
	Interface string `yaml:"interface"`
	// TAPName is the name given to the provisioned virtual link.
	TAPName string `yaml:"tap_name"`
	MTU     int    `yaml:"mtu"`

	Timeouts Timeouts `yaml:"timeouts"`
	Static   Static   `yaml:"static"`

	// LeaseSkew is the tolerated difference between the lease expiry
	// the client computed and the one the daemon reported.
	LeaseSkew Duration `yaml:"lease_skew"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		TAPName: "tethertap0",
		MTU:     1500,
		Timeouts: Timeouts{
			State:        Duration(30 * time.Second),
			DHCP:         Duration(10 * time.Second),
			RouterAdvert: Duration(10 * time.Second),
			Clients:      Duration(30 * time.Second),
			Upstream:     Duration(30 * time.Second),
			Teardown:     Duration(30 * time.Second),
		},
		Static: Static{
			LocalAddress:  "192.0.2.3/28",
			ClientAddress: "192.0.2.2/28",
			ClientMAC:     "01:02:03:04:05:06",
		},
		LeaseSkew: Duration(10 * time.Second),
		LogLevel:  "info",
	}
}

// Load reads a configuration file and fills unset fields with defaults.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no scenario could run with.
func (c *Config) Validate() error {
	if c.TAPName == "" || len(c.TAPName) > 15 {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "bad tap_name %q", c.TAPName)
	}
	if c.MTU < 576 {
		return errors.Wrapf(faults.ErrInvalidConfiguration, "mtu %d is below the IPv4 minimum", c.MTU)
	}
	for _, tc := range []struct {
		name string
		d    Duration
	}{
		{"state", c.Timeouts.State},
		{"dhcp", c.Timeouts.DHCP},
		{"router_advert", c.Timeouts.RouterAdvert},
		{"clients", c.Timeouts.Clients},
		{"upstream", c.Timeouts.Upstream},
		{"teardown", c.Timeouts.Teardown},
	} {
		if tc.d <= 0 {
			return errors.Wrapf(faults.ErrInvalidConfiguration, "timeout %s must be positive", tc.name)
		}
	}
	if c.LeaseSkew < 0 {
		return errors.Wrap(faults.ErrInvalidConfiguration, "lease_skew must not be negative")
	}
	return nil
}
