// Package cliconfig resolves the small set of global settings every
// mcpc command needs — home directory, verbosity, JSON output — with
// flag > environment variable > default precedence, and the truthy
// string rule ("1", "true", "yes", case-insensitive) applied uniformly
// across every boolean environment variable.
package cliconfig

import (
	"strings"

	"github.com/mcpc-dev/mcpc/pkg/home"
)

// Config is the resolved, renderer-agnostic global configuration every
// command handler receives.
type Config struct {
	HomeDir string
	Verbose bool
	JSON    bool
}

// Truthy reports whether s is one of the accepted truthy strings,
// case-insensitively. Used for every MCPC_* boolean environment
// variable so the rule never drifts between them.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Resolve applies flag > env > default precedence for the three global
// settings. flagHomeDir/flagVerbose/flagJSON carry the flag package's
// "was this flag explicitly set" result (via pflag.Changed), so an
// unset flag falls through to the environment rather than its zero
// value.
func Resolve(flagHomeDir string, homeDirSet bool, flagVerbose, verboseSet, flagJSON, jsonSet bool, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Config{}

	switch {
	case homeDirSet:
		cfg.HomeDir = flagHomeDir
	case func() bool { _, ok := lookupEnv("MCPC_HOME_DIR"); return ok }():
		v, _ := lookupEnv("MCPC_HOME_DIR")
		cfg.HomeDir = v
	default:
		dir, err := home.Dir()
		if err != nil {
			return Config{}, err
		}
		cfg.HomeDir = dir
	}

	switch {
	case verboseSet:
		cfg.Verbose = flagVerbose
	default:
		if v, ok := lookupEnv("MCPC_VERBOSE"); ok {
			cfg.Verbose = Truthy(v)
		}
	}

	switch {
	case jsonSet:
		cfg.JSON = flagJSON
	default:
		if v, ok := lookupEnv("MCPC_JSON"); ok {
			cfg.JSON = Truthy(v)
		}
	}

	return cfg, nil
}

// OTelEnabled reports whether MCPC_OTEL opts into the optional
// telemetry recorder.
func OTelEnabled(lookupEnv func(string) (string, bool)) bool {
	v, ok := lookupEnv("MCPC_OTEL")
	return ok && Truthy(v)
}
