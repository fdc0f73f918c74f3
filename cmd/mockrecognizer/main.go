// Command mockrecognizer serves fake decode and punctuation endpoints for
// running the transcription service locally without a speech model.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HaujetZhao/SubWriter/internal/audio"
	"github.com/HaujetZhao/SubWriter/internal/engine"
)

// tokenInterval is the spacing of generated tokens in seconds
const tokenInterval = 0.5

var phrase = []string{"今", "天", "天", "气", "很", "好", "我", "们", "去", "散", "步"}

type recognizer struct {
	logger *slog.Logger
	delay  time.Duration
}

type textPayload struct {
	Text string `json:"text"`
}

func (rec *recognizer) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wavData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	samples, sampleRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := fakeResult(float64(len(samples)) / float64(sampleRate))

	rec.logger.Info("Decode request",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(wavData)),
		slog.Int("sample_rate", sampleRate),
		slog.String("form_sample_rate", r.FormValue("sample_rate")),
		slog.String("language", r.FormValue("language")),
		slog.Int("tokens", len(result.Tokens)))

	time.Sleep(rec.delay)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (rec *recognizer) handlePunctuate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Error parsing body", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(payload.Text)
	if text != "" {
		text += "。"
	}

	rec.logger.Info("Punctuation request", slog.Int("runes", len([]rune(text))))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(textPayload{Text: text})
}

// fakeResult emits one phrase character every tokenInterval seconds
func fakeResult(seconds float64) engine.DecodeResult {
	result := engine.DecodeResult{Tokens: []string{}, Timestamps: []float64{}}
	for i := 0; float64(i)*tokenInterval+tokenInterval/2 < seconds; i++ {
		result.Tokens = append(result.Tokens, phrase[i%len(phrase)])
		result.Timestamps = append(result.Timestamps, float64(i)*tokenInterval+tokenInterval/2)
	}
	return result
}

func newMux(rec *recognizer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/decode", rec.handleDecode)
	mux.HandleFunc("/punctuate", rec.handlePunctuate)
	return mux
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	rec := &recognizer{logger: logger, delay: *delay}

	logger.Info("Mock recognizer starting",
		slog.String("address", *addr),
		slog.String("decode_endpoint", "/decode"),
		slog.String("punctuate_endpoint", "/punctuate"))

	if err := http.ListenAndServe(*addr, newMux(rec)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
