// Package config loads, normalizes, and validates aisio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AISIO_SERVER_PORT. The Config type centralizes every knob the server and
// client roles need so both can be started from one file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
