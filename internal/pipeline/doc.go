// Package pipeline runs one transcription request end to end: it segments the
// audio, decodes each window, stitches the results in window order and
// finishes the text into a transcript message.
package pipeline
