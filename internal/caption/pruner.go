package caption

import (
	"fmt"
	"strings"
	"sync"

	"github.com/skypro1111/live-caption-client/internal/media"
)

// PlaybackMode is the kind of stream being captioned.
type PlaybackMode string

const (
	PlaybackLive PlaybackMode = "live"
	PlaybackVOD  PlaybackMode = "vod"
)

// ParsePlaybackMode validates a configured mode name.
func ParsePlaybackMode(s string) (PlaybackMode, error) {
	switch m := PlaybackMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PlaybackLive, PlaybackVOD:
		return m, nil
	case "":
		return PlaybackLive, nil
	default:
		return "", fmt.Errorf("unknown playback mode %q", s)
	}
}

// Pruner evicts cues that fell out of the playback window. It returns the
// number of cues removed.
type Pruner interface {
	Prune(tracks []Track, window media.TimeRange) int
}

// PrunerFactory builds the pruner for a mode.
type PrunerFactory func() Pruner

type prunerRegistry struct {
	mu        sync.RWMutex
	factories map[PlaybackMode]PrunerFactory
}

var pruners = &prunerRegistry{factories: map[PlaybackMode]PrunerFactory{}}

// RegisterPruner installs the pruning strategy for a mode, replacing any
// previous one.
func RegisterPruner(mode PlaybackMode, factory PrunerFactory) {
	if mode == "" || factory == nil {
		return
	}
	pruners.mu.Lock()
	defer pruners.mu.Unlock()
	pruners.factories[mode] = factory
}

// NewPruner returns the registered strategy for mode, or a no-op pruner when
// none is registered.
func NewPruner(mode PlaybackMode) Pruner {
	pruners.mu.RLock()
	factory, ok := pruners.factories[mode]
	pruners.mu.RUnlock()
	if !ok {
		return NoopPruner{}
	}
	return factory()
}

// NoopPruner keeps every cue.
type NoopPruner struct{}

func (NoopPruner) Prune([]Track, media.TimeRange) int { return 0 }
