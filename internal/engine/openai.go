package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/HaujetZhao/SubWriter/internal/audio"
)

const punctuationPrompt = `Insert punctuation into the following speech transcript.
Do not change, add, remove or reorder any characters other than punctuation marks.
Return only the punctuated text.

`

// newOpenAIClient creates a client for an OpenAI-compatible API; an empty
// endpoint means the public OpenAI API
func newOpenAIClient(config ClientConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = config.Endpoint
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(clientConfig)
}

// OpenAIDecoder decodes windows through an OpenAI-compatible transcription
// endpoint, asking for word timestamps and using each word as a token
type OpenAIDecoder struct {
	cli      *openai.Client
	model    string
	language string
}

// NewOpenAIDecoder creates a decoder; config.Endpoint is the API base URL
func NewOpenAIDecoder(config ClientConfig) (*OpenAIDecoder, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("decoder: model cannot be empty")
	}
	return &OpenAIDecoder{
		cli:      newOpenAIClient(config),
		model:    config.Model,
		language: config.Language,
	}, nil
}

// Decode uploads one window as WAV and converts the word list into a result
func (d *OpenAIDecoder) Decode(ctx context.Context, samples []float32, sampleRate int) (*DecodeResult, error) {
	wavData, err := audio.EncodeWAV(audio.FloatToPCM16(samples), sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode window: %w", err)
	}

	resp, err := d.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    d.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wavData),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: d.language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	result := &DecodeResult{
		Tokens:     make([]string, 0, len(resp.Words)),
		Timestamps: make([]float64, 0, len(resp.Words)),
	}
	for _, w := range resp.Words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		result.Tokens = append(result.Tokens, word)
		result.Timestamps = append(result.Timestamps, w.Start)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// OpenAIPunctuator restores punctuation with a chat completion model
type OpenAIPunctuator struct {
	cli   *openai.Client
	model string
}

// NewOpenAIPunctuator creates a punctuator; config.Endpoint is the API base URL
func NewOpenAIPunctuator(config ClientConfig) (*OpenAIPunctuator, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("punctuation: model cannot be empty")
	}
	return &OpenAIPunctuator{
		cli:   newOpenAIClient(config),
		model: config.Model,
	}, nil
}

// Punctuate asks the model for the punctuated text
func (p *OpenAIPunctuator) Punctuate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := p.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: punctuationPrompt + text,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("punctuation API failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices from punctuation API")
	}

	punctuated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if punctuated == "" {
		return "", fmt.Errorf("empty response from punctuation API")
	}
	return punctuated, nil
}
