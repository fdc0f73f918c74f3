// Package config provides configuration loading and validation for the
// transcription service. It reads a YAML file, fills in defaults for omitted
// settings and validates every section before the service starts.
package config
