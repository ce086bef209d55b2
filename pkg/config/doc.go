// Package config loads the tfdriver configuration.
//
// Settings come from three layers, later ones winning:
//
//  1. the built-in defaults (Default)
//  2. an optional file, YAML (.yaml, .yml) or CUE (.cue, .json)
//  3. TFDRIVER_* environment variables and LOG_LEVEL
//
// CUE and JSON files are unified with a closed #Config schema, so unknown
// keys and out-of-range values are reported with file positions. Every
// layer is finally checked with struct tag validation.
//
// A minimal YAML file:
//
//	binary: tofu
//	base_dir: /var/lib/tfdriver
//	timeout: 30m
//	max_retries: 5
//	policy:
//	  enabled: true
//	  environment: production
//	  paths: [/etc/tfdriver/policies]
//
// Durations are Go duration strings; a bare number is read as seconds.
package config
