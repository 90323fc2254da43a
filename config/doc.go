// Package config loads the application configuration from TOML or YAML
// files and secrets from .env files.
package config
