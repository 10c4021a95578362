// Command tethercheck verifies the tethering daemon end to end.
//
// It acts as the client machine on a downstream link: it
// provisions a virtual interface, asks the daemon to tether it, then
// negotiates DHCP and inspects router advertisements on the raw link,
// checking the daemon's D-Bus reporting against what the client really
// observed.
//
// Usage:
//
//	tethercheck run [scenario...]    Run scenarios (all when none given)
//	tethercheck list                 List available scenarios
//	tethercheck status               Show the daemon's current state
//	tethercheck version              Print the version
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tethercheck/internal/scenario"
)

var (
	configPath string
	ifaceFlag  string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "tethercheck",
	Short:             "Verification harness for the tethering daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&ifaceFlag, "interface", "i", "", "physical downstream interface")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (scenario.Config, error) {
	cfg, err := scenario.Load(configPath)
	if err != nil {
		return scenario.Config{}, err
	}
	if ifaceFlag != "" {
		cfg.Interface = ifaceFlag
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return scenario.Config{}, err
	}
	logrus.SetLevel(parsed)
	return cfg, nil
}
