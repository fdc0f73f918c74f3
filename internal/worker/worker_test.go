package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HaujetZhao/SubWriter/internal/archive"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
	"github.com/HaujetZhao/SubWriter/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTranscriber struct {
	release chan struct{}
	started chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	fail    error
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (*pipeline.Message, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.calls.Add(1)
	f.started <- struct{}{}

	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.fail != nil {
		return nil, f.fail
	}
	return &pipeline.Message{
		Tokens:     []string{"好"},
		Timestamps: []float64{float64(len(pcm))},
		Text:       "好",
	}, nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	saved []archive.Transcript
	err   error

	// block, when set, holds every Save until closed
	block   chan struct{}
	entered chan struct{}
}

func newBlockingArchiver() *fakeArchiver {
	return &fakeArchiver{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 16),
	}
}

func (a *fakeArchiver) Save(_ context.Context, t archive.Transcript) error {
	if a.block != nil {
		a.entered <- struct{}{}
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, t)
	return a.err
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}

func newTestWorker(t *testing.T, tr Transcriber, ar Archiver, m *metrics.Metrics) *Worker {
	t.Helper()
	w, err := New(Config{QueueSize: 1, SampleRate: 16000}, tr, ar, testLogger(), m)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func waitStarted(t *testing.T, f *fakeTranscriber) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for job to start")
	}
}

func TestSubmitReturnsTranscript(t *testing.T) {
	tr := newFakeTranscriber()
	close(tr.release)

	w := newTestWorker(t, tr, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// A nil ID is replaced by a generated one
	msg, err := w.Submit(context.Background(), uuid.Nil, make([]byte, 32000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if msg.Text != "好" {
		t.Errorf("Expected text 好, got %q", msg.Text)
	}

	stats := w.GetStats()
	if stats.JobsCompleted != 1 {
		t.Errorf("Expected 1 completed job, got %d", stats.JobsCompleted)
	}
	if stats.AudioSeconds != 1 {
		t.Errorf("Expected 1 second of audio, got %v", stats.AudioSeconds)
	}
	if stats.LastJobID == "" || stats.LastJobID == uuid.Nil.String() {
		t.Errorf("Expected a generated job ID, got %q", stats.LastJobID)
	}
}

func TestJobsRunOneAtATime(t *testing.T) {
	tr := newFakeTranscriber()
	w, err := New(Config{QueueSize: 4, SampleRate: 16000}, tr, nil, testLogger(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	const jobs = 4
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0})
			errs <- err
		}()
	}

	for i := 0; i < jobs; i++ {
		waitStarted(t, tr)
		tr.release <- struct{}{}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Submit failed: %v", err)
		}
	}
	if peak := tr.peak.Load(); peak != 1 {
		t.Errorf("Expected at most one job in flight, got %d", peak)
	}
	if calls := tr.calls.Load(); calls != jobs {
		t.Errorf("Expected %d transcriptions, got %d", jobs, calls)
	}
}

func TestSubmitBlocksWhileQueueFull(t *testing.T) {
	tr := newFakeTranscriber()
	w := newTestWorker(t, tr, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		close(tr.release)
		w.Stop()
	}()

	// First job occupies the worker
	go w.Submit(context.Background(), uuid.New(), []byte{0, 0})
	waitStarted(t, tr)

	// Second job fills the single queue slot
	go w.Submit(context.Background(), uuid.New(), []byte{0, 0})
	deadline := time.Now().Add(2 * time.Second)
	for w.GetStats().QueueLength != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for queued job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Submit(ctx, uuid.New(), []byte{0, 0})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while queue full, got %v", err)
	}
}

func TestAcceptedJobIgnoresCallerCancellation(t *testing.T) {
	tr := newFakeTranscriber()
	w := newTestWorker(t, tr, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(ctx, uuid.New(), []byte{0, 0})
		done <- err
	}()

	waitStarted(t, tr)
	cancel()
	tr.release <- struct{}{}

	if err := <-done; err != nil {
		t.Errorf("Expected accepted job to complete, got %v", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	w := newTestWorker(t, newFakeTranscriber(), nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()

	if _, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped on restart, got %v", err)
	}
	if w.GetStats().Running {
		t.Error("Expected stopped worker to report not running")
	}
}

func TestStopFailsQueuedJobs(t *testing.T) {
	tr := newFakeTranscriber()
	w := newTestWorker(t, tr, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	running := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0})
		running <- err
	}()
	waitStarted(t, tr)

	queued := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0})
		queued <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for w.GetStats().QueueLength != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for queued job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	// Release the running job only once the stop has been signalled
	<-w.quit
	close(tr.release)
	<-stopped

	if err := <-running; err != nil {
		t.Errorf("Expected running job to complete, got %v", err)
	}
	if err := <-queued; !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped for queued job, got %v", err)
	}
	if calls := tr.calls.Load(); calls != 1 {
		t.Errorf("Expected only the running job to reach the transcriber, got %d calls", calls)
	}
}

func TestStopFailsQueuedJobsRepeatedly(t *testing.T) {
	// The job loop must never pick a queued job once stop is signalled
	for i := 0; i < 25; i++ {
		tr := newFakeTranscriber()
		w := newTestWorker(t, tr, nil, nil)
		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		running := make(chan error, 1)
		go func() {
			_, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0})
			running <- err
		}()
		waitStarted(t, tr)

		queued := make(chan error, 1)
		go func() {
			_, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0})
			queued <- err
		}()
		for w.GetStats().QueueLength != 1 {
			time.Sleep(time.Millisecond)
		}

		stopped := make(chan struct{})
		go func() {
			w.Stop()
			close(stopped)
		}()
		<-w.quit
		close(tr.release)
		<-stopped

		<-running
		if err := <-queued; !errors.Is(err, ErrStopped) {
			t.Fatalf("Trial %d: expected ErrStopped for queued job, got %v", i, err)
		}
	}
}

func TestStopWithoutStart(t *testing.T) {
	w := newTestWorker(t, newFakeTranscriber(), nil, nil)
	w.Stop()

	if _, err := w.Submit(context.Background(), uuid.New(), nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestFailedJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tr := newFakeTranscriber()
	tr.fail = errors.New("decoder unavailable")
	close(tr.release)

	ar := &fakeArchiver{}
	w := newTestWorker(t, tr, ar, m)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if _, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0}); !errors.Is(err, tr.fail) {
		t.Errorf("Expected transcriber error, got %v", err)
	}

	if got := testutil.ToFloat64(m.JobsFailed); got != 1 {
		t.Errorf("Expected 1 failed job, got %v", got)
	}
	if got := testutil.ToFloat64(m.JobsSubmitted); got != 1 {
		t.Errorf("Expected 1 submitted job, got %v", got)
	}
	if ar.count() != 0 {
		t.Errorf("Expected failed job not to be archived, got %d", ar.count())
	}
	if w.GetStats().JobsFailed != 1 {
		t.Errorf("Expected 1 failed job in stats, got %d", w.GetStats().JobsFailed)
	}
}

func TestArchiveFailureDoesNotFailJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tr := newFakeTranscriber()
	close(tr.release)
	ar := &fakeArchiver{err: errors.New("db down")}

	w := newTestWorker(t, tr, ar, m)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id := uuid.New()
	if _, err := w.Submit(context.Background(), id, []byte{0, 0}); err != nil {
		t.Fatalf("Expected job to succeed despite archive failure, got %v", err)
	}

	// Stop waits for the archive goroutine to drain
	w.Stop()

	if ar.count() != 1 {
		t.Fatalf("Expected 1 archive attempt, got %d", ar.count())
	}
	if ar.saved[0].ID != id {
		t.Errorf("Expected archived ID %s, got %s", id, ar.saved[0].ID)
	}
	if w.GetStats().LastJobID != id.String() {
		t.Errorf("Expected last job ID %s, got %s", id, w.GetStats().LastJobID)
	}
	if got := testutil.ToFloat64(m.ArchiveFailures); got != 1 {
		t.Errorf("Expected 1 archive failure, got %v", got)
	}
}

func TestArchiveDoesNotDelayNextJob(t *testing.T) {
	tr := newFakeTranscriber()
	close(tr.release)
	ar := newBlockingArchiver()

	w := newTestWorker(t, tr, ar, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0}); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	select {
	case <-ar.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for archive write")
	}

	// The first transcript is still being archived
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := w.Submit(ctx, uuid.New(), []byte{0, 0}); err != nil {
		t.Fatalf("Second submit blocked behind archive write: %v", err)
	}

	close(ar.block)
	w.Stop()

	if ar.count() != 2 {
		t.Errorf("Expected both transcripts archived after Stop, got %d", ar.count())
	}
}

func TestArchiveBacklogFullDropsTranscript(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tr := newFakeTranscriber()
	close(tr.release)
	ar := newBlockingArchiver()

	w, err := New(Config{QueueSize: 1, SampleRate: 16000, ArchiveBacklog: 1}, tr, ar, testLogger(), m)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// First transcript occupies the archive goroutine
	if _, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case <-ar.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for archive write")
	}

	// Second fills the backlog, third is dropped
	for i := 0; i < 2; i++ {
		if _, err := w.Submit(context.Background(), uuid.New(), []byte{0, 0}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if got := testutil.ToFloat64(m.ArchiveFailures); got != 1 {
		t.Errorf("Expected 1 dropped transcript, got %v", got)
	}

	close(ar.block)
	w.Stop()

	if ar.count() != 2 {
		t.Errorf("Expected 2 archived transcripts, got %d", ar.count())
	}
	if got := testutil.ToFloat64(m.ArchiveWrites); got != 2 {
		t.Errorf("Expected 2 archive writes, got %v", got)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{SampleRate: 16000}, nil, nil, nil, nil); err == nil {
		t.Error("Expected error for nil transcriber")
	}
	if _, err := New(Config{}, newFakeTranscriber(), nil, nil, nil); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	w, err := New(Config{SampleRate: 16000}, newFakeTranscriber(), nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if w.GetStats().QueueCapacity != 1 {
		t.Errorf("Expected default queue capacity 1, got %d", w.GetStats().QueueCapacity)
	}
}
