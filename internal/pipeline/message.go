package pipeline

import (
	"math"

	"github.com/HaujetZhao/SubWriter/internal/stitch"
)

// Message is the transcript returned to clients. Field names are part of the
// wire format.
type Message struct {
	Timestamps []float64 `json:"timestamps"`
	Tokens     []string  `json:"tokens"`
	Text       string    `json:"text"`
}

// newMessage builds a message from a stitched stream, rounding timestamps to
// milliseconds. Empty streams produce empty lists, never nil.
func newMessage(stream stitch.Stream, text string) *Message {
	timestamps := make([]float64, len(stream.Timestamps))
	for i, ts := range stream.Timestamps {
		timestamps[i] = math.Round(ts*1000) / 1000
	}
	tokens := make([]string, len(stream.Tokens))
	copy(tokens, stream.Tokens)

	return &Message{
		Timestamps: timestamps,
		Tokens:     tokens,
		Text:       text,
	}
}
