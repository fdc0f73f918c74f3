// Package server exposes the transcription worker over HTTP and WebSocket,
// together with health, statistics, configuration and Prometheus endpoints.
package server
