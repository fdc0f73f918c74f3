package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/HaujetZhao/SubWriter/internal/audio"
)

// HTTPDecoder decodes windows with a self-hosted recogniser that accepts a
// multipart WAV upload and answers {"tokens": [...], "timestamps": [...]}
type HTTPDecoder struct {
	*client
}

// NewHTTPDecoder creates a decoder for the recogniser at config.Endpoint
func NewHTTPDecoder(config ClientConfig) (*HTTPDecoder, error) {
	c, err := newClient(config)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return &HTTPDecoder{client: c}, nil
}

// Decode sends one window and returns its validated result
func (d *HTTPDecoder) Decode(ctx context.Context, samples []float32, sampleRate int) (*DecodeResult, error) {
	wavData, err := audio.EncodeWAV(audio.FloatToPCM16(samples), sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode window: %w", err)
	}

	body, contentType, err := d.createMultipartRequest(wavData, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	respBody, err := d.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var result DecodeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response JSON: %v", ErrMalformedResult, err)
	}
	if result.Tokens == nil {
		result.Tokens = []string{}
	}
	if result.Timestamps == nil {
		result.Timestamps = []float64{}
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (d *HTTPDecoder) createMultipartRequest(wavData []byte, sampleRate int) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"sample_rate":     strconv.Itoa(sampleRate),
		"response_format": "json",
	}
	if d.config.Language != "" {
		fields["language"] = d.config.Language
	}
	if d.config.Model != "" {
		fields["model"] = d.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

// GetStats returns current decoder statistics
func (d *HTTPDecoder) GetStats() Stats {
	return d.stats()
}

// Close waits for in-flight requests to finish
func (d *HTTPDecoder) Close() error {
	return d.close()
}

// HTTPPunctuator restores punctuation with a JSON service that accepts
// {"text": "..."} and answers {"text": "..."}
type HTTPPunctuator struct {
	*client
}

type punctuationPayload struct {
	Text string `json:"text"`
}

// NewHTTPPunctuator creates a punctuator for the service at config.Endpoint
func NewHTTPPunctuator(config ClientConfig) (*HTTPPunctuator, error) {
	c, err := newClient(config)
	if err != nil {
		return nil, fmt.Errorf("punctuation: %w", err)
	}
	return &HTTPPunctuator{client: c}, nil
}

// Punctuate returns text with punctuation inserted
func (p *HTTPPunctuator) Punctuate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(punctuationPayload{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := p.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var out punctuationPayload
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return out.Text, nil
}

// GetStats returns current punctuator statistics
func (p *HTTPPunctuator) GetStats() Stats {
	return p.stats()
}

// Close waits for in-flight requests to finish
func (p *HTTPPunctuator) Close() error {
	return p.close()
}
