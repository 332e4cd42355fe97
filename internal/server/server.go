// Package server exposes the WebSocket endpoints for solo and room sessions
// plus the REST surface (rooms, recordings, transcripts, health, metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lingopair/lingopair/internal/archive"
	"github.com/lingopair/lingopair/internal/config"
	"github.com/lingopair/lingopair/internal/health"
	"github.com/lingopair/lingopair/internal/observe"
	"github.com/lingopair/lingopair/internal/pipeline"
	"github.com/lingopair/lingopair/internal/recording"
	"github.com/lingopair/lingopair/internal/room"
	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/vad"
)

// Deps bundles everything a Server needs. All fields except Archive and
// Recordings are required.
type Deps struct {
	Config     *config.Config
	Log        *slog.Logger
	Metrics    *observe.Metrics
	Rooms      *room.Registry
	Providers  pipeline.Providers
	VAD        vad.Engine
	Workers    *pipeline.Workers
	Recordings *recording.Store
	Archive    *archive.Store
	Health     *health.Handler
	Prom       *promclient.Registry
}

// Server serves the wire endpoints and the REST surface.
type Server struct {
	cfg        *config.Config
	log        *slog.Logger
	metrics    *observe.Metrics
	rooms      *room.Registry
	providers  pipeline.Providers
	vadEngine  vad.Engine
	workers    *pipeline.Workers
	recordings *recording.Store
	archive    *archive.Store
	health     *health.Handler
	prom       *promclient.Registry

	// clients maps participant IDs to their connections for partner fan-out.
	clients sync.Map
}

// New assembles a Server from its dependencies.
func New(deps Deps) *Server {
	return &Server{
		cfg:        deps.Config,
		log:        deps.Log,
		metrics:    deps.Metrics,
		rooms:      deps.Rooms,
		providers:  deps.Providers,
		vadEngine:  deps.VAD,
		workers:    deps.Workers,
		recordings: deps.Recordings,
		archive:    deps.Archive,
		health:     deps.Health,
		prom:       deps.Prom,
	}
}

// Handler returns the full route table wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/audio", s.handleSolo)
	mux.HandleFunc("GET /ws/session", s.handleSession)
	mux.HandleFunc("GET /rooms", s.handleRooms)
	mux.HandleFunc("GET /rooms/{code}/transcripts", s.handleTranscripts)
	mux.HandleFunc("GET /recordings", s.handleRecordings)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	s.health.Register(mux)
	return observe.Middleware(s.metrics, s.log)(mux)
}

// Run serves HTTP until ctx is cancelled, alongside the room sweeper.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.rooms.Run(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.ListenAddr, err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleRooms lists live rooms and their phases.
func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	type roomInfo struct {
		Code  string     `json:"code"`
		Phase room.Phase `json:"phase"`
	}
	var out []roomInfo
	for _, code := range s.rooms.Codes() {
		if r, ok := s.rooms.Get(code); ok {
			out = append(out, roomInfo{Code: code, Phase: r.Phase()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

// handleTranscripts returns archived transcripts for a room, newest first.
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "transcript archive is not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.archive.Recent(r.Context(), r.PathValue("code"), limit)
	if err != nil {
		s.log.Error("transcript query failed", "error", err)
		http.Error(w, "transcript query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": records})
}

// handleRecordings lists stored session recordings.
func (s *Server) handleRecordings(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.recordings.List()
	if err != nil {
		s.log.Error("recording listing failed", "error", err)
		http.Error(w, "recording listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pipelineConfig builds a per-participant pipeline config from the validated
// settings.
func (s *Server) pipelineConfig(sourceLang, targetLang string, ttsEnabled bool) pipeline.Config {
	p := s.cfg.Pipeline
	return pipeline.Config{
		SourceLanguage:     sourceLang,
		TargetLanguage:     targetLang,
		TTSEnabled:         ttsEnabled && s.providers.TTS != nil,
		PartialMin:         time.Duration(p.PartialMinMs) * time.Millisecond,
		PartialTranslation: p.PartialTranslation,
		ASRTimeout:         time.Duration(p.ASRTimeoutMs) * time.Millisecond,
		MTTimeout:          time.Duration(p.MTTimeoutMs) * time.Millisecond,
		TTSTimeout:         time.Duration(p.TTSTimeoutMs) * time.Millisecond,
	}
}

// newSegmenter opens a VAD session for one connection.
func (s *Server) newSegmenter() (*pipeline.Segmenter, error) {
	sess, err := s.vadEngine.NewSession(vad.Config{
		SampleRate: audio.PipelineSampleRate,
		WindowSize: pipeline.WindowSize,
		Threshold:  s.cfg.Pipeline.VADThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("server: open vad session: %w", err)
	}
	silence := time.Duration(s.cfg.Pipeline.SilenceWindowMs) * time.Millisecond
	return pipeline.NewSegmenter(sess, silence), nil
}
