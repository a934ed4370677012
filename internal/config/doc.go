// Package config holds the configuration value for one indexed project.
//
// Load layers defaults, the optional <root>/.codeindex/config.toml file and
// CODEINDEX_* environment variables. The resulting *Config is passed
// explicitly to every component; nothing reads configuration from globals.
package config
