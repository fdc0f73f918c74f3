package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HaujetZhao/SubWriter/internal/archive"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
	"github.com/HaujetZhao/SubWriter/internal/pipeline"
)

// ErrStopped is returned for jobs submitted to, or still queued in, a stopped worker
var ErrStopped = errors.New("worker stopped")

// errArchiveBacklog is recorded when finished transcripts outpace the archive
var errArchiveBacklog = errors.New("archive backlog full")

// Transcriber runs one transcription to completion
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (*pipeline.Message, error)
}

// Archiver stores finished transcripts
type Archiver interface {
	Save(ctx context.Context, t archive.Transcript) error
}

// Config contains worker configuration
type Config struct {
	QueueSize      int
	SampleRate     int
	ArchiveTimeout time.Duration
	ArchiveBacklog int // transcripts waiting for the archive
}

// Stats represents worker statistics for monitoring
type Stats struct {
	Running       bool    `json:"running"`
	Busy          bool    `json:"busy"`
	QueueLength   int     `json:"queue_length"`
	QueueCapacity int     `json:"queue_capacity"`
	JobsCompleted uint64  `json:"jobs_completed"`
	JobsFailed    uint64  `json:"jobs_failed"`
	AudioSeconds  float64 `json:"audio_seconds_total"`
	LastJobID     string  `json:"last_job_id,omitempty"`
}

type job struct {
	id        uuid.UUID
	pcm       []byte
	submitted time.Time
	done      chan jobResult // buffered, written exactly once
}

type jobResult struct {
	message *pipeline.Message
	err     error
}

// Worker executes jobs one at a time in submission order
type Worker struct {
	config      Config
	transcriber Transcriber
	archiver    Archiver
	logger      *slog.Logger
	metrics     *metrics.Metrics

	jobs     chan *job
	archives chan archive.Transcript // nil without an archiver
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	// Statistics
	statsMu       sync.Mutex
	busy          bool
	jobsCompleted uint64
	jobsFailed    uint64
	audioSeconds  float64
	lastJobID     string
}

// New creates a worker. archiver may be nil.
func New(config Config, transcriber Transcriber, archiver Archiver, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.ArchiveTimeout <= 0 {
		config.ArchiveTimeout = 10 * time.Second
	}
	if config.ArchiveBacklog < 1 {
		config.ArchiveBacklog = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		config:      config,
		transcriber: transcriber,
		archiver:    archiver,
		logger:      logger,
		metrics:     m,
		jobs:        make(chan *job, config.QueueSize),
		quit:        make(chan struct{}),
	}
	if archiver != nil {
		w.archives = make(chan archive.Transcript, config.ArchiveBacklog)
	}
	return w, nil
}

// Start launches the worker goroutine. Jobs run on ctx; cancelling it stops
// the worker after the current job.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)
	if w.archives != nil {
		w.wg.Add(1)
		go w.archiveLoop(ctx)
	}

	w.logger.Info("Transcription worker started", slog.Int("queue_size", w.config.QueueSize))
	return nil
}

// Stop rejects new jobs, waits for the running job and pending archive
// writes, and fails queued jobs with ErrStopped
func (w *Worker) Stop() {
	w.signalStop()

	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()

	if started {
		w.wg.Wait()
	} else {
		w.shutdown()
	}
}

func (w *Worker) signalStop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Submit queues pcm under id and blocks until its transcript is ready. A nil
// id is replaced by a fresh one. ctx bounds only the wait for a queue slot;
// once accepted the job runs to completion.
func (w *Worker) Submit(ctx context.Context, id uuid.UUID, pcm []byte) (*pipeline.Message, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	j := &job{
		id:        id,
		pcm:       pcm,
		submitted: time.Now(),
		done:      make(chan jobResult, 1),
	}

	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return nil, ErrStopped
	}
	select {
	case w.jobs <- j:
	case <-w.quit:
		w.mu.RUnlock()
		return nil, ErrStopped
	case <-ctx.Done():
		w.mu.RUnlock()
		return nil, ctx.Err()
	}
	w.mu.RUnlock()

	w.metrics.RecordJobSubmitted()
	w.metrics.SetQueueDepth(len(w.jobs))
	w.logger.Debug("Job queued",
		slog.String("job_id", j.id.String()),
		slog.Int("bytes", len(pcm)),
		slog.Int("queue_length", len(w.jobs)))

	res := <-j.done
	return res.message, res.err
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		w.shutdown()
		if w.archives != nil {
			close(w.archives)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Transcription worker context cancelled")
			return
		case <-w.quit:
			return
		case j := <-w.jobs:
			// A stop observed while the previous job ran wins over the queue
			if w.stopping(ctx) {
				j.done <- jobResult{err: ErrStopped}
				return
			}
			w.metrics.SetQueueDepth(len(w.jobs))
			w.process(ctx, j)
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.quit:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// shutdown marks the worker stopped and fails every job left in the queue
func (w *Worker) shutdown() {
	w.signalStop()

	// Submitters holding the read lock leave their select once quit is closed
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	for {
		select {
		case j := <-w.jobs:
			j.done <- jobResult{err: ErrStopped}
		default:
			w.metrics.SetQueueDepth(0)
			w.logger.Info("Transcription worker stopped")
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, j *job) {
	w.setBusy(true)
	defer w.setBusy(false)

	startTime := time.Now()
	audioSeconds := float64(len(j.pcm)/2) / float64(w.config.SampleRate)

	w.logger.Info("Transcription job started",
		slog.String("job_id", j.id.String()),
		slog.Float64("audio_seconds", audioSeconds),
		slog.Duration("queued", startTime.Sub(j.submitted)))

	message, err := w.transcriber.Transcribe(ctx, j.pcm)
	elapsed := time.Since(startTime)

	if err != nil {
		w.recordJob(j.id, false, audioSeconds)
		w.metrics.RecordJobFailed(elapsed.Seconds())
		w.logger.Error("Transcription job failed",
			slog.String("job_id", j.id.String()),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		j.done <- jobResult{err: err}
		return
	}

	w.recordJob(j.id, true, audioSeconds)
	w.metrics.RecordJobCompleted(elapsed.Seconds(), audioSeconds)
	w.logger.Info("Transcription job completed",
		slog.String("job_id", j.id.String()),
		slog.Int("tokens", len(message.Tokens)),
		slog.Duration("elapsed", elapsed))

	w.enqueueArchive(archive.Transcript{
		ID:           j.id,
		CreatedAt:    j.submitted,
		AudioSeconds: audioSeconds,
		Message:      message,
	})

	j.done <- jobResult{message: message}
}

// enqueueArchive hands a transcript to the archive goroutine without
// blocking the next job; a full backlog drops it
func (w *Worker) enqueueArchive(t archive.Transcript) {
	if w.archives == nil {
		return
	}
	select {
	case w.archives <- t:
	default:
		w.metrics.RecordArchiveWrite(errArchiveBacklog)
		w.logger.Warn("Failed to archive transcript",
			slog.String("job_id", t.ID.String()),
			slog.String("error", errArchiveBacklog.Error()))
	}
}

// archiveLoop writes transcripts until the job loop closes the backlog
func (w *Worker) archiveLoop(ctx context.Context) {
	defer w.wg.Done()

	// Writes already queued still land after ctx is cancelled
	ctx = context.WithoutCancel(ctx)
	for t := range w.archives {
		w.store(ctx, t)
	}
}

// store archives a finished transcript; failures are logged, never returned
func (w *Worker) store(ctx context.Context, t archive.Transcript) {
	archiveCtx, cancel := context.WithTimeout(ctx, w.config.ArchiveTimeout)
	defer cancel()

	err := w.archiver.Save(archiveCtx, t)
	w.metrics.RecordArchiveWrite(err)
	if err != nil {
		w.logger.Warn("Failed to archive transcript",
			slog.String("job_id", t.ID.String()),
			slog.String("error", err.Error()))
	}
}

func (w *Worker) setBusy(busy bool) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.busy = busy
}

func (w *Worker) recordJob(id uuid.UUID, ok bool, audioSeconds float64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	if ok {
		w.jobsCompleted++
		w.audioSeconds += audioSeconds
	} else {
		w.jobsFailed++
	}
	w.lastJobID = id.String()
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.mu.RLock()
	running := w.started && !w.stopped
	w.mu.RUnlock()

	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	return Stats{
		Running:       running,
		Busy:          w.busy,
		QueueLength:   len(w.jobs),
		QueueCapacity: cap(w.jobs),
		JobsCompleted: w.jobsCompleted,
		JobsFailed:    w.jobsFailed,
		AudioSeconds:  w.audioSeconds,
		LastJobID:     w.lastJobID,
	}
}
