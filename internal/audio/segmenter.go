package audio

import (
	"fmt"
	"math"
)

// SegmenterConfig contains the window geometry
type SegmenterConfig struct {
	WindowSeconds  float64 // nominal window length and stride
	OverlapSeconds float64 // read-ahead shared with the next window
	SampleRate     int
}

// Window is a contiguous range of the sample buffer, in samples
type Window struct {
	Index   int  `json:"index"`
	Start   int  `json:"start"`
	Length  int  `json:"length"`
	Overlap int  `json:"overlap"` // samples shared with the next window
	Final   bool `json:"final"`
}

// End returns the first sample after the window
func (w Window) End() int {
	return w.Start + w.Length
}

// Segmenter splits a sample buffer into overlapping windows. Windows advance
// by the nominal window length and read overlap samples ahead, so the
// overlap region is decoded by both neighbours.
type Segmenter struct {
	config         SegmenterConfig
	windowSamples  int
	overlapSamples int
}

// NewSegmenter creates a segmenter for the given geometry
func NewSegmenter(config SegmenterConfig) (*Segmenter, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %.3fs", config.WindowSeconds)
	}
	if config.OverlapSeconds < 0 {
		return nil, fmt.Errorf("overlap cannot be negative, got %.3fs", config.OverlapSeconds)
	}

	windowSamples := int(math.Round(config.WindowSeconds * float64(config.SampleRate)))
	if windowSamples < 1 {
		return nil, fmt.Errorf("window of %.3fs is shorter than one sample", config.WindowSeconds)
	}

	return &Segmenter{
		config:         config,
		windowSamples:  windowSamples,
		overlapSamples: int(math.Round(config.OverlapSeconds * float64(config.SampleRate))),
	}, nil
}

// Config returns the segmenter geometry
func (s *Segmenter) Config() SegmenterConfig {
	return s.config
}

// Count returns how many windows a buffer of n samples produces
func (s *Segmenter) Count(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + s.windowSamples - 1) / s.windowSamples
}

// Windows returns a lazy iterator over the windows of buf
func (s *Segmenter) Windows(buf *SampleBuffer) *WindowIterator {
	return s.windowsFor(buf.Len())
}

func (s *Segmenter) windowsFor(total int) *WindowIterator {
	return &WindowIterator{
		segmenter: s,
		total:     total,
		count:     s.Count(total),
	}
}

// WindowIterator yields windows in order. It is not safe for concurrent use.
type WindowIterator struct {
	segmenter *Segmenter
	total     int
	count     int
	next      int
}

// Next returns the next window, or false when the buffer is exhausted
func (it *WindowIterator) Next() (Window, bool) {
	if it.next >= it.count {
		return Window{}, false
	}

	s := it.segmenter
	index := it.next
	it.next++

	start := index * s.windowSamples
	length := s.windowSamples + s.overlapSamples
	if remaining := it.total - start; length > remaining {
		length = remaining
	}

	final := index == it.count-1
	overlap := 0
	if !final && length > s.windowSamples {
		overlap = length - s.windowSamples
	}

	return Window{
		Index:   index,
		Start:   start,
		Length:  length,
		Overlap: overlap,
		Final:   final,
	}, true
}

// Len returns the total number of windows
func (it *WindowIterator) Len() int {
	return it.count
}

// All drains the iterator into a slice
func (it *WindowIterator) All() []Window {
	windows := make([]Window, 0, it.count-it.next)
	for {
		w, ok := it.Next()
		if !ok {
			return windows
		}
		windows = append(windows, w)
	}
}
