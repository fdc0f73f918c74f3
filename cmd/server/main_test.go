package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/HaujetZhao/SubWriter/internal/config"
	"github.com/HaujetZhao/SubWriter/internal/engine"
)

func TestNewDecoderSelectsProvider(t *testing.T) {
	decoder, err := newDecoder(config.DecoderConfig{Provider: "http", Endpoint: "http://localhost:9000/decode", Timeout: 5, MaxConcurrent: 1})
	if err != nil {
		t.Fatalf("newDecoder failed: %v", err)
	}
	if _, ok := decoder.(*engine.HTTPDecoder); !ok {
		t.Errorf("Expected *engine.HTTPDecoder, got %T", decoder)
	}

	decoder, err = newDecoder(config.DecoderConfig{Provider: "openai", Model: "whisper-1", Timeout: 5})
	if err != nil {
		t.Fatalf("newDecoder failed: %v", err)
	}
	if _, ok := decoder.(*engine.OpenAIDecoder); !ok {
		t.Errorf("Expected *engine.OpenAIDecoder, got %T", decoder)
	}

	if _, err := newDecoder(config.DecoderConfig{Provider: "grpc"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNewPunctuatorSelectsProvider(t *testing.T) {
	punctuator, err := newPunctuator(config.PunctuationConfig{Provider: "none"})
	if err != nil {
		t.Fatalf("newPunctuator failed: %v", err)
	}
	if punctuator != nil {
		t.Errorf("Expected nil punctuator for none, got %T", punctuator)
	}

	punctuator, err = newPunctuator(config.PunctuationConfig{Provider: "http", Endpoint: "http://localhost:9000/punctuate", Timeout: 5})
	if err != nil {
		t.Fatalf("newPunctuator failed: %v", err)
	}
	if _, ok := punctuator.(*engine.HTTPPunctuator); !ok {
		t.Errorf("Expected *engine.HTTPPunctuator, got %T", punctuator)
	}

	punctuator, err = newPunctuator(config.PunctuationConfig{Provider: "openai", Model: "gpt-4o-mini", Timeout: 5})
	if err != nil {
		t.Fatalf("newPunctuator failed: %v", err)
	}
	if _, ok := punctuator.(*engine.OpenAIPunctuator); !ok {
		t.Errorf("Expected *engine.OpenAIPunctuator, got %T", punctuator)
	}
}

func TestInitLoggerLevels(t *testing.T) {
	logger := initLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug logging disabled at warn level")
	}

	logger = initLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug logging enabled at debug level")
	}
}
