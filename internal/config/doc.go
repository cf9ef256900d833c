// Package config loads, normalizes, and validates Scribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENROUTER_API_KEY and HF_TOKEN. The Config type centralizes every knob the
// daemon and CLI need: workspace directories, scheduler limits, per-stage
// executor wiring, and external service credentials.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
