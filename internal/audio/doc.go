// Package audio holds request audio and splits it for decoding.
// It decodes 16-bit PCM into an immutable sample buffer, segments the buffer
// into fixed windows with read-ahead overlap, and encodes/decodes WAV files
// for engines and uploads.
package audio
