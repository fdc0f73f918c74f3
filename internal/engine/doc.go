// Package engine defines the decode and punctuation contracts consumed by the
// transcription pipeline and provides adapters for a self-hosted recogniser
// over HTTP and for OpenAI-compatible APIs.
//
// HTTP adapters send each window as a WAV file in a multipart request, retry
// with exponential backoff on server errors and limit concurrent requests
// with a semaphore.
package engine
