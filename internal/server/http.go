package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HaujetZhao/SubWriter/internal/archive"
	"github.com/HaujetZhao/SubWriter/internal/audio"
	"github.com/HaujetZhao/SubWriter/internal/config"
	"github.com/HaujetZhao/SubWriter/internal/engine"
	"github.com/HaujetZhao/SubWriter/internal/metrics"
	"github.com/HaujetZhao/SubWriter/internal/pipeline"
	"github.com/HaujetZhao/SubWriter/internal/worker"
)

const (
	serviceName = "subwriter"

	// transcriptIDHeader carries the job ID a transcript is archived under
	transcriptIDHeader = "X-Transcript-ID"
)

// Transcriber queues PCM audio for transcription
type Transcriber interface {
	Submit(ctx context.Context, id uuid.UUID, pcm []byte) (*pipeline.Message, error)
	GetStats() worker.Stats
}

// StatsSource reports engine client statistics
type StatsSource interface {
	GetStats() engine.Stats
}

// TranscriptSource looks up archived transcripts
type TranscriptSource interface {
	Get(ctx context.Context, id uuid.UUID) (*archive.Transcript, error)
}

// transcriptResponse is an archived transcript as served by /transcripts/{id}
type transcriptResponse struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	AudioSeconds float64   `json:"audio_seconds"`
	*pipeline.Message
}

// HTTPServer provides the transcription API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	version  string
	worker   Transcriber
	decoder  StatsSource
	archive  TranscriptSource
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. decoder and transcripts may
// be nil.
func NewHTTPServer(appConfig *config.Config, version string, logger *slog.Logger,
	w Transcriber, decoder StatsSource, transcripts TranscriptSource, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:  logger,
		config:  appConfig,
		version: version,
		worker:  w,
		decoder: decoder,
		archive: transcripts,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:      mux,
		ReadTimeout:  appConfig.Server.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.Server.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Transcription endpoints
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))
	mux.HandleFunc("/ws", h.withMetrics("/ws", h.handleWebSocket))
	mux.HandleFunc("GET /transcripts/{id}", h.withMetrics("/transcripts", h.handleTranscript))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Port returns the bound TCP port, or the configured one before Start
func (h *HTTPServer) Port() int {
	if h.listener != nil {
		if addr, ok := h.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return h.config.Server.Port
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe implements POST /transcribe. The body is raw s16le PCM or
// a WAV file at the configured sample rate.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	pcm, err := h.extractPCM(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.New()
	message, err := h.worker.Submit(r.Context(), id, pcm)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, worker.ErrStopped):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if r.Context().Err() != nil {
				status = http.StatusServiceUnavailable
			}
		}

		h.logger.Error("Transcription request failed",
			slog.String("job_id", id.String()),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("bytes", len(pcm)),
			slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set(transcriptIDHeader, id.String())
	writeJSON(w, http.StatusOK, message)
}

// handleTranscript implements GET /transcripts/{id}
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "transcript archive is not enabled")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid transcript id: %v", err))
		return
	}

	t, err := h.archive.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Transcript lookup failed",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, transcriptResponse{
		ID:           t.ID.String(),
		CreatedAt:    t.CreatedAt.UTC(),
		AudioSeconds: t.AudioSeconds,
		Message:      t.Message,
	})
}

// extractPCM returns the PCM payload of body, unwrapping WAV containers
func (h *HTTPServer) extractPCM(contentType string, body []byte) ([]byte, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	isWAVType := mediaType == "audio/wav" || mediaType == "audio/x-wav" || mediaType == "audio/wave"

	if !isWAVType && !audio.IsWAV(body) {
		return body, nil
	}

	samples, sampleRate, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, fmt.Errorf("invalid WAV body: %w", err)
	}
	if sampleRate != h.config.Audio.SampleRate {
		return nil, fmt.Errorf("WAV sample rate %d does not match required %d Hz", sampleRate, h.config.Audio.SampleRate)
	}

	return audio.EncodePCM(samples), nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workerStats := h.worker.GetStats()
	status := "healthy"
	if !workerStats.Running {
		status = "unavailable"
	}

	components := map[string]interface{}{
		"worker": map[string]interface{}{
			"running":      workerStats.Running,
			"busy":         workerStats.Busy,
			"queue_length": workerStats.QueueLength,
		},
	}
	if h.decoder != nil {
		decoderStats := h.decoder.GetStats()
		components["decoder"] = map[string]interface{}{
			"provider":        h.config.Decoder.Provider,
			"total_requests":  decoderStats.TotalRequests,
			"success_rate":    decoderStats.SuccessRate,
			"active_requests": decoderStats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": h.version,
		},
		"components": components,
	}

	code := http.StatusOK
	if !workerStats.Running {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"worker":    h.worker.GetStats(),
	}
	if h.decoder != nil {
		stats["decoder"] = h.decoder.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// API keys and the archive DSN are never exposed
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":        h.config.Server.Address,
			"port":           h.config.Server.Port,
			"read_timeout":   h.config.Server.ReadTimeout,
			"write_timeout":  h.config.Server.WriteTimeout,
			"max_body_bytes": h.config.Server.MaxBodyBytes,
		},
		"audio": map[string]interface{}{
			"sample_rate":        h.config.Audio.SampleRate,
			"window_seconds":     h.config.Audio.WindowSeconds,
			"overlap_seconds":    h.config.Audio.OverlapSeconds,
			"decode_parallelism": h.config.Audio.DecodeParallelism,
		},
		"decoder": map[string]interface{}{
			"provider":       h.config.Decoder.Provider,
			"endpoint":       h.config.Decoder.Endpoint,
			"model":          h.config.Decoder.Model,
			"language":       h.config.Decoder.Language,
			"timeout":        h.config.Decoder.Timeout,
			"max_retries":    h.config.Decoder.MaxRetries,
			"max_concurrent": h.config.Decoder.MaxConcurrent,
		},
		"punctuation": map[string]interface{}{
			"provider": h.config.Punctuation.Provider,
			"endpoint": h.config.Punctuation.Endpoint,
			"model":    h.config.Punctuation.Model,
			"timeout":  h.config.Punctuation.Timeout,
		},
		"worker": map[string]interface{}{
			"queue_size":      h.config.Worker.QueueSize,
			"archive_timeout": h.config.Worker.ArchiveTimeout,
			"archive_backlog": h.config.Worker.ArchiveBacklog,
		},
		"discovery": map[string]interface{}{
			"enabled":  h.config.Discovery.Enabled,
			"instance": h.config.Discovery.Instance,
			"service":  h.config.Discovery.Service,
			"domain":   h.config.Discovery.Domain,
		},
		"archive": map[string]interface{}{
			"enabled":   h.config.Archive.Enabled,
			"max_conns": h.config.Archive.MaxConns,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "SubWriter Transcription Service",
		"version": h.version,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"POST /transcribe":      "Transcribe raw 16-bit mono PCM or a WAV file",
			"GET /ws":               "WebSocket; each binary message is transcribed",
			"GET /transcripts/{id}": "Get an archived transcript by its X-Transcript-ID",
			"GET /health":           "Service health check",
			"GET /stats":            "Get worker and decoder statistics",
			"GET /config":           "Get service configuration",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
