// Package config loads orchestration engine settings from defaults, a YAML
// file, FO_* environment variables and --set overrides, in that order.
package config
