package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SegmentWatcherConfig configures a SegmentWatcher.
type SegmentWatcherConfig struct {
	Dir             string
	SegmentDuration time.Duration
	InitMarker      string // substring identifying the init segment, "init" by default
	SegmentExt      string // ".m4s" by default
}

// SegmentWatcher feeds fragmented-MP4 HLS segments from a directory. The init
// segment becomes the blob header and every media segment grows the timeline
// by SegmentDuration before it is handed to the consumer.
type SegmentWatcher struct {
	cfg      SegmentWatcherConfig
	logger   *slog.Logger
	timeline *Timeline
	consumer Consumer
	watcher  *fsnotify.Watcher

	initFile string
	seen     map[string]bool
}

// NewSegmentWatcher creates a watcher; Run starts it.
func NewSegmentWatcher(cfg SegmentWatcherConfig, timeline *Timeline, consumer Consumer, logger *slog.Logger) (*SegmentWatcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("segment directory cannot be empty")
	}
	if cfg.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %v", cfg.SegmentDuration)
	}
	if cfg.InitMarker == "" {
		cfg.InitMarker = "init"
	}
	if cfg.SegmentExt == "" {
		cfg.SegmentExt = ".m4s"
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &SegmentWatcher{
		cfg:      cfg,
		logger:   logger,
		timeline: timeline,
		consumer: consumer,
		watcher:  watcher,
		seen:     make(map[string]bool),
	}, nil
}

// Run processes segments already on disk, then follows the directory until
// ctx is cancelled.
func (w *SegmentWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("failed to watch segment directory %s: %w", w.cfg.Dir, err)
	}

	if err := w.scanExisting(); err != nil {
		return err
	}

	w.logger.Info("Watching segment directory",
		slog.String("dir", w.cfg.Dir),
		slog.Duration("segment_duration", w.cfg.SegmentDuration),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if err := w.handleEvent(event); err != nil {
				w.logger.Error("Failed to handle segment event",
					slog.String("file", event.Name),
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Segment watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *SegmentWatcher) scanExisting() error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("could not read segment list: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	// init first, then media segments in name order
	sort.SliceStable(names, func(i, j int) bool {
		ii := strings.Contains(names[i], w.cfg.InitMarker)
		ij := strings.Contains(names[j], w.cfg.InitMarker)
		if ii != ij {
			return ii
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		if err := w.process(filepath.Join(w.cfg.Dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (w *SegmentWatcher) handleEvent(event fsnotify.Event) error {
	if strings.HasSuffix(event.Name, ".tmp") {
		return nil
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the playlist rotated this segment out; forget it
		delete(w.seen, filepath.Base(event.Name))
		return nil
	case event.Has(fsnotify.Create):
		return w.process(event.Name)
	}
	return nil
}

func (w *SegmentWatcher) process(path string) error {
	name := filepath.Base(path)

	if w.initFile == "" && strings.Contains(name, w.cfg.InitMarker) {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read init segment %s: %w", name, err)
		}
		w.initFile = name
		w.consumer.SetHeader(data)
		w.logger.Info("Stored init segment", slog.String("file", name), slog.Int("bytes", len(data)))
		return nil
	}

	if !strings.HasSuffix(name, w.cfg.SegmentExt) || w.seen[name] {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read segment %s: %w", name, err)
	}
	w.seen[name] = true

	if w.initFile == "" {
		w.logger.Warn("Media segment arrived before init segment", slog.String("file", name))
	}

	r := w.timeline.Advance(w.cfg.SegmentDuration.Seconds())
	if err := w.consumer.Add(data); err != nil {
		return fmt.Errorf("failed to add segment %s: %w", name, err)
	}

	w.logger.Debug("Segment fed",
		slog.String("file", name),
		slog.Int("bytes", len(data)),
		slog.String("buffered", r.String()),
	)
	return nil
}
