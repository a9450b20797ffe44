package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/live-caption-client/internal/caption"
	"github.com/skypro1111/live-caption-client/internal/config"
	"github.com/skypro1111/live-caption-client/internal/metrics"
	"github.com/skypro1111/live-caption-client/internal/stream"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

type fakePipeline struct {
	stats  stream.Stats
	tracks *caption.TrackManager
}

func (f *fakePipeline) GetStats() stream.Stats        { return f.stats }
func (f *fakePipeline) Tracks() *caption.TrackManager { return f.tracks }

func newTestServer(t *testing.T, configure bool) (*HTTPServer, *fakePipeline, *prometheus.Registry, *metrics.Metrics) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracks := caption.NewTrackManager(caption.NewMemorySink(), caption.DefaultTrackManagerConfig(), nil, logger)
	if configure {
		tracks.Configure()
	}

	pipeline := &fakePipeline{
		stats: stream.Stats{
			Running: true,
			Mode:    "live",
			Channel: &transcription.ChannelStats{State: transcription.StateOpen.String()},
		},
		tracks: tracks,
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := config.Default()
	cfg.Transcription.Headers["Authorization"] = "Bearer secret"

	srv := NewHTTPServer(cfg.HTTP, logger, cfg, pipeline, m, reg)
	return srv, pipeline, reg, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, pipeline, _, _ := newTestServer(t, true)

	rec := get(t, srv.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}

	pipeline.stats.Channel.State = transcription.StateCircuitOpen.String()
	rec = get(t, srv.Handler(), "/health")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Errorf("Expected degraded, got %v", body["status"])
	}

	pipeline.stats.Running = false
	rec = get(t, srv.Handler(), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when stopped, got %d", rec.Code)
	}
}

func TestConfigIsSanitized(t *testing.T) {
	srv, _, _, _ := newTestServer(t, true)

	rec := get(t, srv.Handler(), "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Bearer secret") {
		t.Errorf("Expected Authorization header to be masked")
	}
}

func TestTrackExport(t *testing.T) {
	srv, pipeline, _, _ := newTestServer(t, true)

	pipeline.tracks.Subtitles().AddCue(caption.Cue{ID: "a", Start: 1, End: 2.5, Text: "hello world"})

	rec := get(t, srv.Handler(), "/tracks/subtitles.vtt")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/vtt") {
		t.Errorf("Expected text/vtt, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "00:00:01.000 --> 00:00:02.500") {
		t.Errorf("Expected cue timing in body, got %q", rec.Body.String())
	}

	rec = get(t, srv.Handler(), "/tracks/subtitles.srt")
	if !strings.Contains(rec.Body.String(), "00:00:01,000 --> 00:00:02,500") {
		t.Errorf("Expected SRT timing in body, got %q", rec.Body.String())
	}

	rec = get(t, srv.Handler(), "/tracks/metadata.vtt")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "WEBVTT") {
		t.Errorf("Expected empty WebVTT document, got %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, srv.Handler(), "/tracks/chapters.vtt")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown kind, got %d", rec.Code)
	}
}

func TestTracksBeforeConfigure(t *testing.T) {
	srv, _, _, _ := newTestServer(t, false)

	rec := get(t, srv.Handler(), "/tracks/subtitles/cues")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before tracks exist, got %d", rec.Code)
	}

	rec = get(t, srv.Handler(), "/tracks")
	var body struct {
		Tracks []trackInfo `json:"tracks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode tracks: %v", err)
	}
	if len(body.Tracks) != 0 {
		t.Errorf("Expected no tracks, got %d", len(body.Tracks))
	}
}

func TestCuesJSON(t *testing.T) {
	srv, pipeline, _, _ := newTestServer(t, true)
	pipeline.tracks.Subtitles().AddCue(caption.Cue{ID: "a", Start: 3, End: 4, Text: "three"})

	rec := get(t, srv.Handler(), "/tracks/subtitles/cues")
	var cues []caption.Cue
	if err := json.Unmarshal(rec.Body.Bytes(), &cues); err != nil {
		t.Fatalf("Failed to decode cues: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "three" {
		t.Errorf("Expected one cue 'three', got %+v", cues)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	srv, _, reg, m := newTestServer(t, true)

	get(t, srv.Handler(), "/stats")
	get(t, srv.Handler(), "/tracks/subtitles.vtt")
	get(t, srv.Handler(), "/tracks/subtitles.vtt")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/stats", "200")); got != 1 {
		t.Errorf("Expected 1 /stats request, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/tracks/{kind:metadata|subtitles}.{format:vtt|srt}", "200")); got != 2 {
		t.Errorf("Expected 2 export requests recorded under the route template, got %v", got)
	}

	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "caption_http_requests_total") {
		t.Errorf("Expected HTTP metrics in scrape output")
	}

	if _, err := reg.Gather(); err != nil {
		t.Errorf("Expected registry to gather cleanly, got %v", err)
	}
}
