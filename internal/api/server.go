// Package api exposes the pipeline, the submission lookup and the Twilio
// telephony flow over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"call-assist-go/internal/config"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/results"
)

// Telephony places calls and downloads their recordings.
type Telephony interface {
	StartCall(ctx context.Context, to string) (string, error)
	FetchRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

type Server struct {
	cfg       *config.Config
	orch      *pipeline.Orchestrator
	telephony Telephony
	results   results.Store
	log       *logger.Logger
}

func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, tel Telephony, store results.Store, log *logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		orch:      orch,
		telephony: tel,
		results:   store,
		log:       log.Component("api"),
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /pipeline/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /pipeline/summarize", s.handleSummarize)
	mux.HandleFunc("POST /pipeline/extract", s.handleExtract)
	mux.HandleFunc("POST /pipeline/run", s.handleRun)
	mux.HandleFunc("POST /submissions/lookup", s.handleLookup)

	mux.HandleFunc("POST /call/start", s.handleStartCall)
	mux.HandleFunc("POST /twilio/voice", s.handleVoice)
	mux.HandleFunc("POST /twilio/recording", s.handleRecording)
	mux.HandleFunc("GET /call/result/{call_sid}", s.handleCallResult)

	return s.logged(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logged tags every request with an id and logs its outcome.
func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", logger.RequestID(r))
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := s.log.WithRequest(r).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds())
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			entry.Debug("request served")
			return
		}
		entry.Info("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
