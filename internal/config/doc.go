// Package config loads the avabearer proxy configuration.
//
// Configuration is YAML. ${VAR} and ${VAR:-default} are replaced from the
// environment before parsing, and AVABEARER_* variables override selected
// fields afterwards:
//
//	cfg, err := config.LoadConfig("avabearer.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Verifier fields left unset fall back to the verifier's own environment
// variables (ISSUER_BASE_URL, AUDIENCE, ...).
//
// A Watcher reloads the file on change and hands every configuration that
// validates to a callback; invalid edits are reported and ignored.
package config
