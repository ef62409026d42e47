// Package config loads, normalizes, and validates callpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CXONE_PASSWORD and DEEPGRAM_API_KEY. The Config type centralizes every knob
// the stage runners and CLI need so the store, object store, and external
// service credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
