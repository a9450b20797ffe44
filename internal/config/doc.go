// Package config provides configuration loading and validation for the live
// caption client. It handles YAML-based configuration with per-section
// validation, built-in defaults and environment overrides.
package config
