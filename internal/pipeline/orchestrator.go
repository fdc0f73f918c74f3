package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HaujetZhao/SubWriter/internal/audio"
	"github.com/HaujetZhao/SubWriter/internal/engine"
	"github.com/HaujetZhao/SubWriter/internal/finish"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
	"github.com/HaujetZhao/SubWriter/internal/stitch"
)

// Config contains orchestrator configuration
type Config struct {
	SampleRate     int
	WindowSeconds  float64
	OverlapSeconds float64

	// DecodeParallelism above 1 decodes that many windows at once. The
	// decoder must then accept concurrent calls.
	DecodeParallelism int
}

// Orchestrator transcribes one audio buffer at a time per call. It holds no
// per-request state, so one instance may serve many requests.
type Orchestrator struct {
	config    Config
	segmenter *audio.Segmenter
	decoder   engine.Decoder
	chain     *finish.Chain
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates an orchestrator around an injected decoder and finishing chain
func New(config Config, decoder engine.Decoder, chain *finish.Chain, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if decoder == nil {
		return nil, fmt.Errorf("decoder cannot be nil")
	}
	if chain == nil {
		return nil, fmt.Errorf("finishing chain cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.DecodeParallelism < 1 {
		config.DecodeParallelism = 1
	}

	segmenter, err := audio.NewSegmenter(audio.SegmenterConfig{
		WindowSeconds:  config.WindowSeconds,
		OverlapSeconds: config.OverlapSeconds,
		SampleRate:     config.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid window geometry: %w", err)
	}

	return &Orchestrator{
		config:    config,
		segmenter: segmenter,
		decoder:   decoder,
		chain:     chain,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Transcribe decodes raw little-endian 16-bit PCM at the configured rate
func (o *Orchestrator) Transcribe(ctx context.Context, pcm []byte) (*Message, error) {
	buf, err := audio.NewSampleBuffer(pcm, o.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return o.TranscribeBuffer(ctx, buf)
}

// TranscribeBuffer runs the whole pipeline over buf. Any decode failure fails
// the request; punctuation and numeral failures degrade silently.
func (o *Orchestrator) TranscribeBuffer(ctx context.Context, buf *audio.SampleBuffer) (*Message, error) {
	if buf.SampleRate() != o.config.SampleRate {
		return nil, fmt.Errorf("sample rate %d does not match configured rate %d", buf.SampleRate(), o.config.SampleRate)
	}

	startTime := time.Now()
	stitcher := stitch.NewStitcher(o.config.WindowSeconds, o.config.OverlapSeconds)
	windows := o.segmenter.Windows(buf)

	o.logger.Debug("Starting transcription",
		slog.Any("buffer", buf.GetStats()),
		slog.Int("windows", windows.Len()),
		slog.Int("parallelism", o.config.DecodeParallelism))

	var err error
	if o.config.DecodeParallelism > 1 && windows.Len() > 1 {
		err = o.decodeParallel(ctx, buf, windows.All(), stitcher)
	} else {
		err = o.decodeSequential(ctx, buf, windows, stitcher)
	}
	if err != nil {
		return nil, err
	}

	stream := stitcher.Stream()
	text := o.chain.Finish(ctx, stream.Tokens)
	o.metrics.RecordTokens(stream.Len())

	o.logger.Debug("Transcription finished",
		slog.Int("tokens", stream.Len()),
		slog.Duration("elapsed", time.Since(startTime)))

	return newMessage(stream, text), nil
}

func (o *Orchestrator) decodeSequential(ctx context.Context, buf *audio.SampleBuffer, windows *audio.WindowIterator, stitcher *stitch.Stitcher) error {
	for {
		w, ok := windows.Next()
		if !ok {
			return nil
		}

		result, err := o.decodeWindow(ctx, buf, w)
		if err != nil {
			return err
		}
		if err := stitcher.Add(result, w.Index == 0, w.Final); err != nil {
			return fmt.Errorf("failed to stitch window %d: %w", w.Index, err)
		}
	}
}

// decodeParallel decodes windows concurrently into an index-addressed slice
// and stitches them afterwards in window order
func (o *Orchestrator) decodeParallel(ctx context.Context, buf *audio.SampleBuffer, windows []audio.Window, stitcher *stitch.Stitcher) error {
	results := make([]*engine.DecodeResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.DecodeParallelism)

	for i, w := range windows {
		g.Go(func() error {
			result, err := o.decodeWindow(gctx, buf, w)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, w := range windows {
		if err := stitcher.Add(results[i], w.Index == 0, w.Final); err != nil {
			return fmt.Errorf("failed to stitch window %d: %w", w.Index, err)
		}
	}
	return nil
}

func (o *Orchestrator) decodeWindow(ctx context.Context, buf *audio.SampleBuffer, w audio.Window) (*engine.DecodeResult, error) {
	startTime := time.Now()

	result, err := o.decoder.Decode(ctx, buf.Window(w), o.config.SampleRate)
	if err == nil && result == nil {
		err = engine.ErrMalformedResult
	}
	if err != nil {
		o.metrics.RecordDecodeFailure()
		return nil, fmt.Errorf("failed to decode window %d: %w", w.Index, err)
	}
	if err := result.Validate(); err != nil {
		o.metrics.RecordDecodeFailure()
		return nil, fmt.Errorf("failed to decode window %d: %w", w.Index, err)
	}

	o.metrics.RecordWindowDecoded(time.Since(startTime).Seconds())

	if o.logger.Enabled(ctx, slog.LevelDebug) {
		rate := float64(o.config.SampleRate)
		segment := audio.Segment{
			Start:    float64(w.Start) / rate,
			Duration: float64(w.Length) / rate,
			Text:     strings.Join(result.Tokens, ""),
		}
		o.logger.Debug("Window decoded",
			slog.Int("window", w.Index),
			slog.Int("tokens", len(result.Tokens)),
			slog.String("segment", segment.String()))
	}

	return result, nil
}
