// Package worker serialises transcription jobs through a bounded queue served
// by a single goroutine, so at most one transcription runs at a time.
// Submitters block while the queue is full and until their job completes.
package worker
