package finish

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/HaujetZhao/SubWriter/internal/engine"
	"github.com/HaujetZhao/SubWriter/internal/itn"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
)

// continuationMarker ends a token that continues into the next one
const continuationMarker = "@@"

// incidentalSpace matches a space with no ASCII alphanumeric on either side
var incidentalSpace = regexp2.MustCompile(`(?<=[^a-zA-Z0-9]) (?=[^a-zA-Z0-9])`, regexp2.None)

// Chain applies the finishing steps in order. A nil Punctuator skips
// punctuation restoration.
type Chain struct {
	punctuator engine.Punctuator
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewChain creates a finishing chain
func NewChain(punctuator engine.Punctuator, logger *slog.Logger, m *metrics.Metrics) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		punctuator: punctuator,
		logger:     logger,
		metrics:    m,
	}
}

// Finish turns stitched tokens into the final transcript text
func (c *Chain) Finish(ctx context.Context, tokens []string) string {
	text := Space(Join(tokens))
	text = c.punctuate(ctx, text)
	text = itn.Normalize(text)
	return Space(text)
}

// punctuate restores punctuation, keeping the input when the punctuator fails
func (c *Chain) punctuate(ctx context.Context, text string) string {
	if c.punctuator == nil || strings.TrimSpace(text) == "" {
		return text
	}

	punctuated, err := c.punctuator.Punctuate(ctx, text)
	if err != nil {
		c.logger.Warn("Punctuation failed, using unpunctuated text",
			slog.String("error", err.Error()),
			slog.Int("text_length", len(text)))
		c.metrics.RecordPunctuationFailure()
		return text
	}
	return punctuated
}

// Join concatenates tokens with single spaces. A token ending in "@@" is the
// first part of a split word and is glued to the next token.
func Join(tokens []string) string {
	text := strings.Join(tokens, " ")
	text = strings.ReplaceAll(text, continuationMarker+" ", "")
	return strings.TrimSuffix(text, continuationMarker)
}

// Space removes spaces that separate two non-alphanumeric characters, so
// ideographs and punctuation close up while words keep their separators
func Space(text string) string {
	out, err := incidentalSpace.Replace(text, "", -1, -1)
	if err != nil {
		return text
	}
	return out
}
