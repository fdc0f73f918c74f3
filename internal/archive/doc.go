// Package archive persists finished transcripts in PostgreSQL so they can be
// looked up after the client has disconnected.
package archive
