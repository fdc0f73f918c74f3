package stitch

import (
	"fmt"

	"github.com/HaujetZhao/SubWriter/internal/engine"
)

// Stream is the merged token stream with absolute timestamps in seconds
type Stream struct {
	Tokens     []string
	Timestamps []float64
}

// Len returns the number of tokens in the stream
func (s Stream) Len() int {
	return len(s.Tokens)
}

// Stitcher accumulates per-window decode results in window order.
// It is not safe for concurrent use; one Stitcher serves one request.
type Stitcher struct {
	windowSeconds  float64
	overlapSeconds float64

	progress float64  // absolute start of the next window
	windows  int      // windows consumed so far
	previous []string // tokens accepted from the last window
	stream   Stream
}

// NewStitcher creates a stitcher for the given window geometry
func NewStitcher(windowSeconds, overlapSeconds float64) *Stitcher {
	return &Stitcher{
		windowSeconds:  windowSeconds,
		overlapSeconds: overlapSeconds,
		stream: Stream{
			Tokens:     []string{},
			Timestamps: []float64{},
		},
	}
}

// Add merges the result of the next window. first and final describe the
// window's position in the sequence; the first window keeps its leading
// tokens and the final window keeps its trailing ones.
func (s *Stitcher) Add(result *engine.DecodeResult, first, final bool) error {
	if result == nil {
		return fmt.Errorf("nil decode result for window %d", s.windows)
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("window %d: %w", s.windows, err)
	}

	half := s.overlapSeconds / 2
	ts := result.Timestamps

	// Coarse trim, front: drop what the previous window already covered
	m := 0
	if !first {
		m = len(ts)
		for i, t := range ts {
			if t > half {
				m = i
				break
			}
		}
	}

	// Coarse trim, back: leave the read-ahead to the next window
	n := len(ts)
	if !final {
		limit := s.windowSeconds + half
		n = 0
		for i := len(ts) - 1; i >= 0; i-- {
			if ts[i] <= limit {
				n = i + 1
				break
			}
		}
	}

	if m < n && !first {
		m += s.boundaryDuplicates(result.Tokens[m:n])
	}

	s.previous = s.previous[:0]
	for i := m; i < n; i++ {
		s.stream.Tokens = append(s.stream.Tokens, result.Tokens[i])
		s.stream.Timestamps = append(s.stream.Timestamps, ts[i]+s.progress)
		s.previous = append(s.previous, result.Tokens[i])
	}

	s.progress += s.windowSeconds
	s.windows++
	return nil
}

// boundaryDuplicates reports how many leading candidates repeat the tail of
// the previous window's accepted tokens: 2 when the last two match, else 1
// when the last one does. A window that contributed nothing matches nothing.
func (s *Stitcher) boundaryDuplicates(candidates []string) int {
	accepted := s.previous
	if len(accepted) >= 2 && len(candidates) >= 2 &&
		accepted[len(accepted)-2] == candidates[0] && accepted[len(accepted)-1] == candidates[1] {
		return 2
	}
	if len(accepted) >= 1 && len(candidates) >= 1 &&
		accepted[len(accepted)-1] == candidates[0] {
		return 1
	}
	return 0
}

// Stream returns the tokens merged so far
func (s *Stitcher) Stream() Stream {
	return s.stream
}

// Windows returns how many windows have been merged
func (s *Stitcher) Windows() int {
	return s.windows
}
