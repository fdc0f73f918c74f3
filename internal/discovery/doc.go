// Package discovery advertises the transcription service on the local network
// over mDNS/DNS-SD so clients can find the WebSocket endpoint without
// configuration.
package discovery
