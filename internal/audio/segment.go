package audio

import (
	"fmt"
	"math"
)

// Segment is a timed span of transcript text, in seconds
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// End returns the end of the segment in seconds
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// String renders the segment as an SRT-style timing line followed by its text
func (s Segment) String() string {
	return formatTimestamp(s.Start) + " --> " + formatTimestamp(s.End()) + "\n" + s.Text
}

// formatTimestamp renders seconds as H:MM:SS,mmm
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Floor(seconds*1000 + 1e-6))
	h := ms / 3600000
	m := ms / 60000 % 60
	sec := ms / 1000 % 60
	return fmt.Sprintf("%d:%02d:%02d,%03d", h, m, sec, ms%1000)
}
