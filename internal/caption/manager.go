package caption

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/live-caption-client/internal/media"
)

// TrackOptions describes one managed track.
type TrackOptions struct {
	Label    string
	Language string
	Initial  TrackMode
}

// TrackManagerConfig contains the options for both managed tracks
type TrackManagerConfig struct {
	Metadata  TrackOptions
	Subtitles TrackOptions
}

// DefaultTrackManagerConfig returns hidden metadata and showing English
// subtitles.
func DefaultTrackManagerConfig() TrackManagerConfig {
	return TrackManagerConfig{
		Metadata: TrackOptions{Initial: ModeHidden},
		Subtitles: TrackOptions{
			Label:    "English (auto-generated)",
			Language: "en",
			Initial:  ModeShowing,
		},
	}
}

// EmitResult counts the cues added by one Emit call.
type EmitResult struct {
	Metadata  int
	Subtitles int
}

// TrackManager owns the metadata and subtitles tracks on a sink.
type TrackManager struct {
	sink   Sink
	config TrackManagerConfig
	pruner Pruner
	logger *slog.Logger

	mu        sync.Mutex
	metadata  Track
	subtitles Track
}

// NewTrackManager creates a manager. Tracks are not created until Configure.
func NewTrackManager(sink Sink, config TrackManagerConfig, pruner Pruner, logger *slog.Logger) *TrackManager {
	if pruner == nil {
		pruner = NoopPruner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Metadata.Initial == "" {
		config.Metadata.Initial = ModeHidden
	}
	if config.Subtitles.Initial == "" {
		config.Subtitles.Initial = ModeShowing
	}
	return &TrackManager{
		sink:   sink,
		config: config,
		pruner: pruner,
		logger: logger.With(slog.String("component", "track_manager")),
	}
}

// Configure creates the tracks on first use and (re)applies the initial
// modes. Repeated calls never create extra tracks.
func (m *TrackManager) Configure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metadata == nil {
		m.metadata = m.sink.AddTextTrack(KindMetadata, m.config.Metadata.Label, m.config.Metadata.Language)
		m.subtitles = m.sink.AddTextTrack(KindSubtitles, m.config.Subtitles.Label, m.config.Subtitles.Language)
		m.logger.Debug("Text tracks created",
			slog.String("subtitles_label", m.config.Subtitles.Label),
			slog.String("subtitles_lang", m.config.Subtitles.Language))
	}

	m.metadata.SetMode(m.config.Metadata.Initial)
	m.subtitles.SetMode(m.config.Subtitles.Initial)
}

// Clean removes every cue from the managed tracks and hides them. It is a
// no-op before Configure.
func (m *TrackManager) Clean() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tracks() {
		removed := 0
		for {
			cues := t.Cues()
			if len(cues) == 0 || !t.RemoveCue(cues[0].ID) {
				break
			}
			removed++
		}
		t.SetMode(ModeHidden)

		if removed > 0 {
			m.logger.Debug("Track cleaned",
				slog.String("kind", string(t.Kind())),
				slog.Int("removed", removed))
		}
	}
}

// Emit adds the cues of a translation. Tracks are configured on demand.
func (m *TrackManager) Emit(tr Translation) EmitResult {
	m.Configure()

	m.mu.Lock()
	defer m.mu.Unlock()

	var res EmitResult

	for _, entry := range tr.Confidence {
		text, err := json.Marshal(entry)
		if err != nil {
			m.logger.Error("Failed to encode confidence cue", slog.String("error", err.Error()))
			continue
		}
		m.metadata.AddCue(Cue{
			ID:    uuid.NewString(),
			Start: entry.Range.Start,
			End:   entry.Range.End,
			Text:  string(text),
		})
		res.Metadata++
	}

	for _, g := range tr.Groups {
		m.subtitles.AddCue(Cue{
			ID:    uuid.NewString(),
			Start: g.Start,
			End:   g.End,
			Text:  g.Text,
		})
		res.Subtitles++
	}

	return res
}

// Prune runs the mode's pruning strategy against the playback window.
func (m *TrackManager) Prune(window media.TimeRange) int {
	m.mu.Lock()
	tracks := m.tracks()
	m.mu.Unlock()

	if len(tracks) == 0 {
		return 0
	}
	return m.pruner.Prune(tracks, window)
}

// Metadata returns the metadata track, or nil before Configure.
func (m *TrackManager) Metadata() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata
}

// Subtitles returns the subtitles track, or nil before Configure.
func (m *TrackManager) Subtitles() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subtitles
}

func (m *TrackManager) tracks() []Track {
	if m.metadata == nil {
		return nil
	}
	return []Track{m.metadata, m.subtitles}
}
