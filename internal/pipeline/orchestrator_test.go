package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HaujetZhao/SubWriter/internal/audio"
	"github.com/HaujetZhao/SubWriter/internal/engine"
	"github.com/HaujetZhao/SubWriter/internal/finish"
)

const testRate = 10

var seasons = []string{"春", "夏", "秋", "冬", "雪", "雨", "风", "霜"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// secondsPCM builds audio whose every sample holds the index of its second
func secondsPCM(seconds int) []byte {
	samples := make([]int16, seconds*testRate)
	for i := range samples {
		samples[i] = int16(i / testRate)
	}
	return audio.EncodePCM(samples)
}

// fakeDecoder emits one token per whole second of audio, half a second into it
type fakeDecoder struct {
	calls  atomic.Int32
	failAt int // window start second that fails, -1 for none
	delay  time.Duration

	mu     sync.Mutex
	active int
	peak   int
}

var errDecode = errors.New("engine crashed")

func (d *fakeDecoder) Decode(ctx context.Context, samples []float32, sampleRate int) (*engine.DecodeResult, error) {
	d.calls.Add(1)

	d.mu.Lock()
	d.active++
	if d.active > d.peak {
		d.peak = d.active
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	start := int(math.Round(float64(samples[0]) * 32768))
	if start == d.failAt {
		return nil, errDecode
	}

	result := &engine.DecodeResult{Tokens: []string{}, Timestamps: []float64{}}
	for j := 0; j < len(samples)/sampleRate; j++ {
		result.Tokens = append(result.Tokens, seasons[start+j])
		result.Timestamps = append(result.Timestamps, float64(j)+0.5)
	}
	return result, nil
}

func newTestOrchestrator(t *testing.T, decoder engine.Decoder, parallelism int) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		SampleRate:        testRate,
		WindowSeconds:     2,
		OverlapSeconds:    1,
		DecodeParallelism: parallelism,
	}, decoder, finish.NewChain(nil, testLogger(), nil), testLogger(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestTranscribeStitchesWindows(t *testing.T) {
	decoder := &fakeDecoder{failAt: -1}
	o := newTestOrchestrator(t, decoder, 1)

	msg, err := o.Transcribe(context.Background(), secondsPCM(5))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	wantTokens := []string{"春", "夏", "秋", "冬", "雪"}
	if !reflect.DeepEqual(msg.Tokens, wantTokens) {
		t.Errorf("Expected tokens %v, got %v", wantTokens, msg.Tokens)
	}
	wantTS := []float64{0.5, 1.5, 2.5, 3.5, 4.5}
	if !reflect.DeepEqual(msg.Timestamps, wantTS) {
		t.Errorf("Expected timestamps %v, got %v", wantTS, msg.Timestamps)
	}
	if msg.Text != "春夏秋冬雪" {
		t.Errorf("Expected text %q, got %q", "春夏秋冬雪", msg.Text)
	}
	if decoder.calls.Load() != 3 {
		t.Errorf("Expected 3 decode calls, got %d", decoder.calls.Load())
	}
}

func TestTranscribeDebugLogging(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	o, err := New(Config{
		SampleRate:     testRate,
		WindowSeconds:  2,
		OverlapSeconds: 1,
	}, &fakeDecoder{failAt: -1}, finish.NewChain(nil, testLogger(), nil), logger, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := o.Transcribe(context.Background(), secondsPCM(5)); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	var started map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		if entry["msg"] == "Starting transcription" {
			started = entry
		}
	}
	if started == nil {
		t.Fatalf("Expected a start entry, got logs:\n%s", logs.String())
	}

	buffer, ok := started["buffer"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected buffer stats in start entry, got %v", started)
	}
	if buffer["samples"] != float64(50) || buffer["bytes"] != float64(100) || buffer["duration_seconds"] != float64(5) {
		t.Errorf("Unexpected buffer stats: %v", buffer)
	}
	if !strings.Contains(logs.String(), "Window decoded") {
		t.Error("Expected per-window debug entries")
	}
}

func TestTranscribeParallelMatchesSequential(t *testing.T) {
	pcm := secondsPCM(8)

	sequential, err := newTestOrchestrator(t, &fakeDecoder{failAt: -1}, 1).Transcribe(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Sequential transcribe failed: %v", err)
	}

	decoder := &fakeDecoder{failAt: -1, delay: 10 * time.Millisecond}
	parallel, err := newTestOrchestrator(t, decoder, 3).Transcribe(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Parallel transcribe failed: %v", err)
	}

	if !reflect.DeepEqual(sequential, parallel) {
		t.Errorf("Parallel result %+v differs from sequential %+v", parallel, sequential)
	}
	if decoder.peak > 3 {
		t.Errorf("Expected at most 3 concurrent decodes, saw %d", decoder.peak)
	}
}

func TestTranscribeDecodeFailure(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		decoder := &fakeDecoder{failAt: 2}
		o := newTestOrchestrator(t, decoder, parallelism)

		msg, err := o.Transcribe(context.Background(), secondsPCM(5))
		if !errors.Is(err, errDecode) {
			t.Errorf("parallelism %d: expected decode error, got %v", parallelism, err)
		}
		if msg != nil {
			t.Errorf("parallelism %d: expected no message on failure", parallelism)
		}
	}
}

type nilDecoder struct{}

func (nilDecoder) Decode(context.Context, []float32, int) (*engine.DecodeResult, error) {
	return nil, nil
}

func TestTranscribeNilResult(t *testing.T) {
	o := newTestOrchestrator(t, nilDecoder{}, 1)
	_, err := o.Transcribe(context.Background(), secondsPCM(1))
	if !errors.Is(err, engine.ErrMalformedResult) {
		t.Errorf("Expected ErrMalformedResult, got %v", err)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	decoder := &fakeDecoder{failAt: -1}
	o := newTestOrchestrator(t, decoder, 1)

	for _, pcm := range [][]byte{nil, {}, {0x01}} {
		msg, err := o.Transcribe(context.Background(), pcm)
		if err != nil {
			t.Fatalf("Transcribe failed: %v", err)
		}

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(data) != `{"timestamps":[],"tokens":[],"text":""}` {
			t.Errorf("Unexpected empty message %s", data)
		}
	}

	if decoder.calls.Load() != 0 {
		t.Errorf("Expected no decode calls, got %d", decoder.calls.Load())
	}
}

func TestTranscribeBufferRateMismatch(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDecoder{failAt: -1}, 1)
	buf, _ := audio.NewSampleBuffer(audio.EncodePCM(make([]int16, 100)), 16000)

	if _, err := o.TranscribeBuffer(context.Background(), buf); err == nil {
		t.Error("Expected error for sample rate mismatch")
	}
}

func TestNewValidation(t *testing.T) {
	chain := finish.NewChain(nil, testLogger(), nil)
	config := Config{SampleRate: 16000, WindowSeconds: 15, OverlapSeconds: 2}

	if _, err := New(config, nil, chain, testLogger(), nil); err == nil {
		t.Error("Expected error for nil decoder")
	}
	if _, err := New(config, &fakeDecoder{}, nil, testLogger(), nil); err == nil {
		t.Error("Expected error for nil chain")
	}

	bad := config
	bad.WindowSeconds = 0
	if _, err := New(bad, &fakeDecoder{}, chain, testLogger(), nil); err == nil {
		t.Error("Expected error for zero window")
	}
}

func TestMessageJSONFieldOrder(t *testing.T) {
	msg := &Message{
		Timestamps: []float64{0.12, 0.5},
		Tokens:     []string{"你", "好"},
		Text:       "你好",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"timestamps":[0.12,0.5],"tokens":["你","好"],"text":"你好"}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}
