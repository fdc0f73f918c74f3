package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedResult is returned when an engine answers with a result that
// breaks the token/timestamp invariants
var ErrMalformedResult = errors.New("malformed decode result")

// DecodeResult is the output of one window decode. Timestamps are seconds
// relative to the window start, one per token.
type DecodeResult struct {
	Tokens     []string  `json:"tokens"`
	Timestamps []float64 `json:"timestamps"`
}

// Validate checks that tokens and timestamps pair up and never go backwards
func (r *DecodeResult) Validate() error {
	if len(r.Tokens) != len(r.Timestamps) {
		return fmt.Errorf("%w: %d tokens but %d timestamps", ErrMalformedResult, len(r.Tokens), len(r.Timestamps))
	}
	for i := 1; i < len(r.Timestamps); i++ {
		if r.Timestamps[i] < r.Timestamps[i-1] {
			return fmt.Errorf("%w: timestamp %d (%.3f) precedes timestamp %d (%.3f)",
				ErrMalformedResult, i, r.Timestamps[i], i-1, r.Timestamps[i-1])
		}
	}
	return nil
}

// Decoder turns one window of normalised samples into tokens
type Decoder interface {
	Decode(ctx context.Context, samples []float32, sampleRate int) (*DecodeResult, error)
}

// Punctuator inserts punctuation into plain text
type Punctuator interface {
	Punctuate(ctx context.Context, text string) (string, error)
}

// Stats represents adapter request statistics for monitoring
type Stats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
	AvgResponseMs   float64 `json:"avg_response_ms"`
	ActiveRequests  int     `json:"active_requests"`
}
