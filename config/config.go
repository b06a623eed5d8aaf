// Package config centralizes the handful of environment knobs the
// reactor reads, rather than scattering os.Getenv calls through the
// library.
package config

import "os"

// Bool reads a boolean environment variable. Unrecognized or absent
// values return def; only "1", "true", "TRUE", "True" are truthy.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}
