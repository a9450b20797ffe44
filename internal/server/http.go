package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/live-caption-client/internal/caption"
	"github.com/skypro1111/live-caption-client/internal/config"
	"github.com/skypro1111/live-caption-client/internal/metrics"
	"github.com/skypro1111/live-caption-client/internal/stream"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

// Pipeline is the part of stream.Pipeline the API reads from.
type Pipeline interface {
	GetStats() stream.Stats
	Tracks() *caption.TrackManager
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	router   *mux.Router
	logger   *slog.Logger
	config   *config.Config
	pipeline Pipeline
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, pipeline Pipeline, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    appConfig,
		pipeline:  pipeline,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.router = mux.NewRouter()
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(router *mux.Router) {
	api := router.NewRoute().Subrouter()
	api.Use(h.withMetrics)

	api.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/config", h.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/tracks", h.handleTracks).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{kind:metadata|subtitles}/cues", h.handleCues).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{kind:metadata|subtitles}.{format:vtt|srt}", h.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)

	// Prometheus scrapes are not counted
	router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics records request count, latency and errors per route template
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		if h.metrics == nil {
			return
		}

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
	})
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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.pipeline.GetStats()

	status := "healthy"
	code := http.StatusOK
	channelState := transcription.StateClosed.String()
	if stats.Channel != nil {
		channelState = stats.Channel.State
	}

	switch {
	case !stats.Running:
		status = "stopped"
		code = http.StatusServiceUnavailable
	case channelState != transcription.StateOpen.String():
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "live-caption-client",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"pipeline": map[string]interface{}{
				"running":     stats.Running,
				"busy":        stats.Busy,
				"mode":        stats.Mode,
				"queue_depth": stats.Queue.Depth,
			},
			"transcription": map[string]interface{}{
				"state":         channelState,
				"requests_sent": stats.RequestsSent,
				"replies":       stats.Replies,
			},
		},
	}

	h.writeJSON(w, code, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.GetStats(),
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, h.config.Sanitized())
}

type trackInfo struct {
	Kind     caption.Kind      `json:"kind"`
	Label    string            `json:"label"`
	Language string            `json:"language"`
	Mode     caption.TrackMode `json:"mode"`
	Cues     int               `json:"cues"`
}

// handleTracks implements the /tracks endpoint
func (h *HTTPServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks := make([]trackInfo, 0, 2)
	for _, kind := range []caption.Kind{caption.KindMetadata, caption.KindSubtitles} {
		track := h.track(kind)
		if track == nil {
			continue
		}
		tracks = append(tracks, trackInfo{
			Kind:     track.Kind(),
			Label:    track.Label(),
			Language: track.Language(),
			Mode:     track.Mode(),
			Cues:     len(track.Cues()),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"tracks":    tracks,
	})
}

// handleCues implements the /tracks/{kind}/cues endpoint
func (h *HTTPServer) handleCues(w http.ResponseWriter, r *http.Request) {
	track := h.track(caption.Kind(mux.Vars(r)["kind"]))
	if track == nil {
		http.Error(w, "Track not configured", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, track.Cues())
}

// handleExport implements the /tracks/{kind}.{format} endpoint
func (h *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	track := h.track(caption.Kind(vars["kind"]))
	if track == nil {
		http.Error(w, "Track not configured", http.StatusNotFound)
		return
	}

	format := caption.ExportFormat(vars["format"])
	body, err := caption.ExportBytes(track, format)
	if err != nil {
		h.logger.Error("Failed to export track",
			slog.String("kind", vars["kind"]),
			slog.String("format", vars["format"]),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Write(body)
}

func (h *HTTPServer) track(kind caption.Kind) caption.Track {
	tracks := h.pipeline.Tracks()
	if tracks == nil {
		return nil
	}
	switch kind {
	case caption.KindMetadata:
		return tracks.Metadata()
	case caption.KindSubtitles:
		return tracks.Subtitles()
	default:
		return nil
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Live Caption Client",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Client health check",
			"GET /stats":                   "Pipeline statistics",
			"GET /config":                  "Client configuration with secrets masked",
			"GET /tracks":                  "Text tracks and cue counts",
			"GET /tracks/{kind}/cues":      "Cues of a track as JSON",
			"GET /tracks/{kind}.{vtt|srt}": "Track rendered as WebVTT or SRT",
			"GET /metrics":                 "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
