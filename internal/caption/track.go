package caption

import (
	"fmt"
	"sort"
	"sync"
)

// Kind is the kind of a text track.
type Kind string

const (
	KindMetadata  Kind = "metadata"
	KindSubtitles Kind = "subtitles"
)

// TrackMode controls whether a track is rendered.
type TrackMode string

const (
	ModeHidden   TrackMode = "hidden"
	ModeShowing  TrackMode = "showing"
	ModeDisabled TrackMode = "disabled"
)

// ParseTrackMode validates a configured mode name.
func ParseTrackMode(s string) (TrackMode, error) {
	switch m := TrackMode(s); m {
	case ModeHidden, ModeShowing, ModeDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("unknown track mode %q", s)
	}
}

// Cue is a timed text entry. Times are in media seconds.
type Cue struct {
	ID    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Track is a text track owned by a Sink.
type Track interface {
	Kind() Kind
	Label() string
	Language() string
	AddCue(cue Cue)
	// RemoveCue removes the cue with the given ID and reports whether it
	// was present.
	RemoveCue(id string) bool
	// Cues returns the cues ordered by start time.
	Cues() []Cue
	Mode() TrackMode
	SetMode(mode TrackMode)
}

// Sink creates text tracks, like a media element does.
type Sink interface {
	AddTextTrack(kind Kind, label, language string) Track
}

// MemorySink keeps tracks in memory.
type MemorySink struct {
	mu     sync.RWMutex
	tracks []*MemoryTrack
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// AddTextTrack implements Sink.
func (s *MemorySink) AddTextTrack(kind Kind, label, language string) Track {
	t := &MemoryTrack{
		kind:     kind,
		label:    label,
		language: language,
		mode:     ModeDisabled,
	}

	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()

	return t
}

// Track returns the first track of the given kind.
func (s *MemorySink) Track(kind Kind) (*MemoryTrack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

// Tracks returns every track in creation order.
func (s *MemorySink) Tracks() []*MemoryTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*MemoryTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// MemoryTrack is a Track safe for concurrent use.
type MemoryTrack struct {
	kind     Kind
	label    string
	language string

	mu   sync.RWMutex
	mode TrackMode
	cues []Cue
}

func (t *MemoryTrack) Kind() Kind       { return t.kind }
func (t *MemoryTrack) Label() string    { return t.label }
func (t *MemoryTrack) Language() string { return t.language }

// AddCue inserts the cue after any cue with the same or earlier start.
func (t *MemoryTrack) AddCue(cue Cue) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.cues), func(i int) bool {
		return t.cues[i].Start > cue.Start
	})
	t.cues = append(t.cues, Cue{})
	copy(t.cues[i+1:], t.cues[i:])
	t.cues[i] = cue
}

func (t *MemoryTrack) RemoveCue(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, c := range t.cues {
		if c.ID == id {
			t.cues = append(t.cues[:i], t.cues[i+1:]...)
			return true
		}
	}
	return false
}

func (t *MemoryTrack) Cues() []Cue {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Cue, len(t.cues))
	copy(out, t.cues)
	return out
}

func (t *MemoryTrack) Mode() TrackMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

func (t *MemoryTrack) SetMode(mode TrackMode) {
	t.mu.Lock()
	t.mode = mode
	t.mu.Unlock()
}

// Len returns the number of cues.
func (t *MemoryTrack) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cues)
}
