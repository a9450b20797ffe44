package media

import (
	"errors"
	"sync"
)

// ErrNothingBuffered is returned by a surface that has no buffered media yet.
var ErrNothingBuffered = errors.New("nothing buffered")

// Surface is the playback surface collaborator. It reports the overall
// buffered range of the media element.
type Surface interface {
	BufferedRange() (TimeRange, error)
}

// Consumer receives raw audio from a source.
type Consumer interface {
	// SetHeader stores the leading container segment sent before every blob.
	SetHeader(data []byte)
	// Add hands over an audio chunk; its range is sampled from the surface later.
	Add(data []byte) error
}

// Timeline is a Surface driven by a source: every appended segment grows the
// buffered window. A sliding window can be kept with SetWindow.
type Timeline struct {
	start  float64
	end    float64
	window float64
	any    bool

	mu sync.RWMutex
}

// NewTimeline creates an empty timeline starting at zero.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// SetWindow bounds the buffered range to the trailing window seconds.
// Zero keeps everything, which is what a VOD element reports.
func (t *Timeline) SetWindow(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	t.window = seconds
	t.slide()
}

// Advance extends the buffered end by seconds and returns the new range.
func (t *Timeline) Advance(seconds float64) TimeRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds > 0 {
		t.end += seconds
	}
	t.any = true
	t.slide()
	return TimeRange{Start: t.start, End: t.end}
}

// Reset forgets everything buffered so far.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start, t.end, t.any = 0, 0, false
}

// BufferedRange implements Surface.
func (t *Timeline) BufferedRange() (TimeRange, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.any {
		return TimeRange{}, ErrNothingBuffered
	}
	return TimeRange{Start: t.start, End: t.end}, nil
}

func (t *Timeline) slide() {
	if t.window > 0 && t.end-t.start > t.window {
		t.start = t.end - t.window
	}
}

// StaticSurface always reports the same range. Useful when the host already
// knows the range of the chunk it is about to add.
type StaticSurface struct {
	mu sync.RWMutex
	r  TimeRange
}

// Set replaces the reported range.
func (s *StaticSurface) Set(r TimeRange) {
	s.mu.Lock()
	s.r = r
	s.mu.Unlock()
}

// BufferedRange implements Surface.
func (s *StaticSurface) BufferedRange() (TimeRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r, nil
}
