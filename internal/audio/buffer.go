package audio

import (
	"fmt"
	"math"
)

// SampleBuffer holds one request's mono 16-bit PCM audio. It is immutable
// once built.
type SampleBuffer struct {
	samples    []int16 // PCM samples
	sampleRate int     // 16000 Hz
}

// BufferStats represents buffer information for logging and monitoring
type BufferStats struct {
	Samples    int     `json:"samples"`
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration_seconds"`
	Bytes      int     `json:"bytes"`
}

// NewSampleBuffer decodes little-endian 16-bit PCM bytes. A trailing odd
// byte cannot form a sample and is dropped.
func NewSampleBuffer(pcm []byte, sampleRate int) (*SampleBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		byteOffset := i * 2
		samples[i] = int16(pcm[byteOffset]) | int16(pcm[byteOffset+1])<<8
	}

	return &SampleBuffer{samples: samples, sampleRate: sampleRate}, nil
}

// Len returns the number of samples
func (b *SampleBuffer) Len() int {
	return len(b.samples)
}

// SampleRate returns the sample rate in Hz
func (b *SampleBuffer) SampleRate() int {
	return b.sampleRate
}

// Duration returns the audio length in seconds
func (b *SampleBuffer) Duration() float64 {
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// Float32 returns the samples in [start, end) as amplitudes in [-1, 1)
func (b *SampleBuffer) Float32(start, end int) []float32 {
	start, end = b.clamp(start, end)
	out := make([]float32, end-start)
	for i, s := range b.samples[start:end] {
		out[i] = float32(s) / 32768
	}
	return out
}

// Window returns the normalised samples covered by w
func (b *SampleBuffer) Window(w Window) []float32 {
	return b.Float32(w.Start, w.End())
}

// GetStats returns buffer information
func (b *SampleBuffer) GetStats() BufferStats {
	return BufferStats{
		Samples:    len(b.samples),
		SampleRate: b.sampleRate,
		Duration:   b.Duration(),
		Bytes:      len(b.samples) * 2,
	}
}

func (b *SampleBuffer) clamp(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(b.samples) {
		end = len(b.samples)
	}
	if start > end {
		start = end
	}
	return start, end
}

// EncodePCM encodes samples as little-endian 16-bit PCM bytes
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// FloatToPCM16 converts normalised amplitudes back to 16-bit samples,
// clipping values outside [-1, 1)
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}
