package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/HaujetZhao/SubWriter/internal/engine"
)

func newTestRecognizer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	server := httptest.NewServer(newMux(&recognizer{logger: logger}))
	t.Cleanup(server.Close)
	return server
}

func TestFakeResult(t *testing.T) {
	got := fakeResult(1.6)
	want := engine.DecodeResult{
		Tokens:     []string{"今", "天", "天"},
		Timestamps: []float64{0.25, 0.75, 1.25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if empty := fakeResult(0); empty.Tokens == nil || len(empty.Tokens) != 0 {
		t.Errorf("Expected empty non-nil tokens, got %#v", empty.Tokens)
	}
}

func TestDecodeWithHTTPDecoder(t *testing.T) {
	server := newTestRecognizer(t)

	decoder, err := engine.NewHTTPDecoder(engine.ClientConfig{
		Endpoint: server.URL + "/decode",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPDecoder failed: %v", err)
	}
	defer decoder.Close()

	// Two seconds of silence
	result, err := decoder.Decode(context.Background(), make([]float32, 32000), 16000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(result.Tokens) != 4 {
		t.Errorf("Expected 4 tokens for 2s of audio, got %d", len(result.Tokens))
	}
	if err := result.Validate(); err != nil {
		t.Errorf("Expected valid result, got %v", err)
	}
}

func TestPunctuateWithHTTPPunctuator(t *testing.T) {
	server := newTestRecognizer(t)

	punctuator, err := engine.NewHTTPPunctuator(engine.ClientConfig{
		Endpoint: server.URL + "/punctuate",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPPunctuator failed: %v", err)
	}
	defer punctuator.Close()

	got, err := punctuator.Punctuate(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Punctuate failed: %v", err)
	}
	if got != "你好。" {
		t.Errorf("Expected 你好。, got %q", got)
	}
}
