package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/live-caption-client/internal/audio"
	"github.com/skypro1111/live-caption-client/internal/caption"
	"github.com/skypro1111/live-caption-client/internal/media"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

const wordsReply = `{"results":[{"alternatives":[{"transcript":"hello world","confidence":0.9,"words":[
	{"word":"hello","start_time":{"nanos":500000000},"end_time":{"seconds":1}},
	{"word":"world","start_time":{"seconds":1},"end_time":{"seconds":1,"nanos":500000000}}
]}]}]}`

type fakeTransport struct {
	mu       sync.Mutex
	handler  transcription.Handler
	sent     [][]byte
	sendErr  error
	opened   int
	closed   int
	recycled int
	state    transcription.State
	onSend   func(h transcription.Handler, payload []byte)
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opened++
	f.state = transcription.StateOpen
	h := f.handler
	f.mu.Unlock()

	h.OnOpen()
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, payload)
	h, onSend := f.handler, f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend(h, payload)
	}
	return nil
}

func (f *fakeTransport) Recycle() {
	f.mu.Lock()
	f.recycled++
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.state = transcription.StateClosed
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) State() transcription.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) sentPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	p         *Pipeline
	transport *fakeTransport
	surface   *media.StaticSurface
	sink      *caption.MemorySink
	failures  []Failure
}

// newHarness builds a pipeline without starting its loop; tests drive the
// loop's handlers directly from the test goroutine.
func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	h := &harness{
		transport: &fakeTransport{},
		surface:   &media.StaticSurface{},
		sink:      caption.NewMemorySink(),
	}

	cfg := Config{TickPeriod: time.Hour}
	for _, o := range opts {
		o(&cfg)
	}

	p, err := NewPipeline(cfg, Dependencies{
		Surface: h.surface,
		Sink:    h.sink,
		Transport: func(handler transcription.Handler) (Transport, error) {
			h.transport.handler = handler
			return h.transport, nil
		},
		Logger:    testLogger(),
		OnFailure: func(f Failure) { h.failures = append(h.failures, f) },
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	p.tracks.Configure()
	h.p = p
	return h
}

func (h *harness) add(start, end float64, data string) {
	h.surface.Set(media.TimeRange{Start: start, End: end})
	h.p.settle([]byte(data))
}

func (h *harness) failuresOf(kind FailureKind) []Failure {
	var out []Failure
	for _, f := range h.failures {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func TestBusyUntilFirstOpen(t *testing.T) {
	h := newHarness(t)

	h.add(0, 1, "a")
	h.p.tick()

	if n := len(h.transport.sentPayloads()); n != 0 {
		t.Fatalf("Expected nothing sent before open, got %d", n)
	}
	if h.p.queue.Len() != 1 {
		t.Errorf("Expected audio queued while busy, got %d", h.p.queue.Len())
	}

	h.p.handleOpen()
	h.p.tick()

	sent := h.transport.sentPayloads()
	if len(sent) != 1 || string(sent[0]) != "a" {
		t.Errorf("Expected queued audio sent after open, got %q", sent)
	}
}

func TestNoDataLossAndFIFO(t *testing.T) {
	h := newHarness(t)
	h.p.handleOpen()

	h.add(0, 1, "A")
	h.p.tick() // sends A

	h.add(1, 2, "B")
	h.p.tick() // busy: queues B
	h.add(2, 3, "C")
	h.p.tick() // busy: queues C
	h.p.tick() // busy, nothing new

	if n := len(h.transport.sentPayloads()); n != 1 {
		t.Fatalf("Expected exactly one outstanding request, got %d sends", n)
	}

	h.p.handleMessage([]byte(`{"results":[]}`))
	h.add(3, 4, "D") // fresh audio while B is next in line
	h.p.tick()       // sends B, D stays buffered
	h.p.tick()       // busy: queues D behind C

	h.p.handleMessage([]byte(`{"results":[]}`))
	h.p.tick() // sends C
	h.p.handleMessage([]byte(`{"results":[]}`))
	h.p.tick() // sends D
	h.p.handleMessage([]byte(`{"results":[]}`))
	h.p.tick() // nothing left

	sent := h.transport.sentPayloads()
	got := string(bytes.Join(sent, []byte(",")))
	if got != "A,B,C,D" {
		t.Errorf("Expected sends A,B,C,D in order, got %s", got)
	}
	if h.p.busy {
		t.Error("Expected idle pipeline after last reply")
	}
	if h.p.buffer.Len() != 0 || !h.p.queue.IsEmpty() {
		t.Error("Expected buffer and queue drained")
	}
}

func TestRangeTranslationReachesCues(t *testing.T) {
	h := newHarness(t)
	h.p.handleOpen()

	h.add(0, 5, "first")
	h.p.tick()
	if got := h.p.pending.Range; got.Start != 0 || got.End != 5 {
		t.Fatalf("Expected pending range [0,5), got %s", got)
	}
	h.p.handleMessage([]byte(`{"results":[]}`))

	// surface window shifted; the new chunk starts where the last one ended
	h.add(3, 8, "second")
	h.p.tick()
	if got := h.p.pending.Range; got.Start != 5 || got.End != 8 {
		t.Fatalf("Expected pending range [5,8), got %s", got)
	}

	h.p.handleMessage([]byte(wordsReply))

	subs, _ := h.sink.Track(caption.KindSubtitles)
	cues := subs.Cues()
	if len(cues) != 1 {
		t.Fatalf("Expected 1 subtitle cue, got %d", len(cues))
	}
	if cues[0].Start != 5.5 || cues[0].End != 6.5 || cues[0].Text != "hello world" {
		t.Errorf("Unexpected cue %+v", cues[0])
	}

	meta, _ := h.sink.Track(caption.KindMetadata)
	if meta.Len() != 1 {
		t.Errorf("Expected 1 metadata cue, got %d", meta.Len())
	}
	if h.p.busy {
		t.Error("Expected busy cleared after reply")
	}
}

func TestCloseKeepsBusyUntilReopen(t *testing.T) {
	h := newHarness(t)
	h.p.handleOpen()

	h.add(0, 1, "A")
	h.p.tick()
	h.p.handleClose(errors.New("connection reset"))

	if !h.p.busy {
		t.Fatal("Expected busy after close")
	}
	if h.p.pending != nil {
		t.Error("Expected in-flight request abandoned")
	}
	if n := len(h.failuresOf(FailureAbandoned)); n != 1 {
		t.Errorf("Expected 1 abandoned failure, got %d", n)
	}

	h.add(1, 2, "B")
	h.p.tick()
	if n := len(h.transport.sentPayloads()); n != 1 {
		t.Fatalf("Expected no send while reconnecting, got %d sends", n)
	}

	// errors never change busy
	h.p.handleError(errors.New("dial failed"))
	if !h.p.busy {
		t.Error("Expected busy unchanged by error")
	}

	h.p.handleOpen()
	h.p.tick()

	sent := h.transport.sentPayloads()
	if len(sent) != 2 || string(sent[1]) != "B" {
		t.Errorf("Expected B sent after reopen, got %q", sent)
	}
}

func TestSendFailureRequeuesAtFront(t *testing.T) {
	h := newHarness(t)
	h.p.handleOpen()

	h.transport.sendErr = transcription.ErrNotOpen
	h.add(0, 1, "A")
	h.p.tick()

	if h.p.busy {
		t.Error("Expected busy cleared after send failure")
	}
	if n := len(h.failuresOf(FailureSend)); n != 1 {
		t.Fatalf("Expected 1 send failure, got %d", n)
	}
	if !errors.Is(h.failures[0], transcription.ErrNotOpen) {
		t.Errorf("Expected failure to wrap ErrNotOpen, got %v", h.failures[0])
	}

	h.transport.sendErr = nil
	h.add(1, 2, "B")
	h.p.tick()
	h.p.handleMessage([]byte(`{"results":[]}`))
	h.p.tick()

	got := string(bytes.Join(h.transport.sentPayloads(), []byte(",")))
	if got != "A,B" {
		t.Errorf("Expected A retried before B, got %s", got)
	}
}

func TestRequestTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RequestTimeout = time.Hour })
	h.p.handleOpen()

	h.add(0, 1, "A")
	h.p.tick()
	seq := h.p.pending.seq

	// a timer from an earlier request is ignored
	h.p.handleTimeout(seq - 1)
	if h.p.pending == nil {
		t.Fatal("Expected stale timeout ignored")
	}

	h.p.handleTimeout(seq)

	if h.p.busy {
		t.Error("Expected busy cleared after timeout")
	}
	if h.transport.recycled != 1 {
		t.Errorf("Expected connection recycled, got %d", h.transport.recycled)
	}
	if n := len(h.failuresOf(FailureTimeout)); n != 1 {
		t.Errorf("Expected 1 timeout failure, got %d", n)
	}

	// a late reply has nothing to attach to
	h.p.handleMessage([]byte(wordsReply))
	subs, _ := h.sink.Track(caption.KindSubtitles)
	if subs.Len() != 0 {
		t.Errorf("Expected late reply ignored, got %d cues", subs.Len())
	}
}

func TestReplyFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  FailureKind
	}{
		{"backend marker", `{"fail":"could not transcode"}`, FailureBackend},
		{"malformed", `<html>`, FailureMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.p.handleOpen()
			h.add(0, 1, "A")
			h.p.tick()

			h.p.handleMessage([]byte(tt.reply))

			if h.p.busy {
				t.Error("Expected busy cleared")
			}
			if n := len(h.failuresOf(tt.kind)); n != 1 {
				t.Errorf("Expected 1 %s failure, got %d", tt.kind, n)
			}
			if h.p.counters.Failures[tt.kind] != 1 {
				t.Errorf("Expected failure counted, got %d", h.p.counters.Failures[tt.kind])
			}

			// the range is not retried
			h.p.tick()
			if n := len(h.transport.sentPayloads()); n != 1 {
				t.Errorf("Expected no retry, got %d sends", n)
			}
		})
	}
}

func TestRejectedChunksAreReported(t *testing.T) {
	h := newHarness(t)

	h.add(0, 5, "A")
	// the window end moves backwards, so B translates to [5,4)
	h.add(3, 4, "B")

	rejected := h.failuresOf(FailureRejected)
	if len(rejected) != 1 {
		t.Fatalf("Expected 1 rejected failure, got %d", len(rejected))
	}
	if rejected[0].Bytes != 1 || !errors.Is(rejected[0].Err, media.ErrInvalidRange) {
		t.Errorf("Expected 1 byte rejected with ErrInvalidRange, got %d bytes, err %v", rejected[0].Bytes, rejected[0].Err)
	}
	if !rejected[0].Range.Equal(media.TimeRange{Start: 3, End: 4}) {
		t.Errorf("Expected observed range [3,4), got %s", rejected[0].Range)
	}

	// a surface with nothing buffered yet
	h.p.surface = media.NewTimeline()
	h.p.settle([]byte("CC"))

	rejected = h.failuresOf(FailureRejected)
	if len(rejected) != 2 {
		t.Fatalf("Expected 2 rejected failures, got %d", len(rejected))
	}
	if rejected[1].Bytes != 2 || !errors.Is(rejected[1].Err, media.ErrNothingBuffered) {
		t.Errorf("Expected 2 bytes rejected with ErrNothingBuffered, got %d bytes, err %v", rejected[1].Bytes, rejected[1].Err)
	}

	if h.p.counters.RejectedAdds != 2 {
		t.Errorf("Expected 2 rejected adds, got %d", h.p.counters.RejectedAdds)
	}
	if got := testutil.ToFloat64(h.p.metrics.Failures.WithLabelValues(string(FailureRejected))); got != 2 {
		t.Errorf("Expected 2 rejected failures recorded in metrics, got %v", got)
	}
	if got := h.p.buffer.Size(); got != 1 {
		t.Errorf("Expected only A to stay buffered, got %d bytes", got)
	}
}

func TestBoundedQueueDropsOldest(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxQueued = 1
		c.OverflowPolicy = audio.DropOldest
	})
	h.p.handleOpen()

	h.add(0, 1, "A")
	h.p.tick()
	h.add(1, 2, "B")
	h.p.tick()
	h.add(2, 3, "C")
	h.p.tick()

	dropped := h.failuresOf(FailureDropped)
	if len(dropped) != 1 {
		t.Fatalf("Expected 1 dropped failure, got %d", len(dropped))
	}
	if dropped[0].Range.Start != 1 || dropped[0].Range.End != 2 {
		t.Errorf("Expected B's range dropped, got %s", dropped[0].Range)
	}

	h.p.handleMessage([]byte(`{"results":[]}`))
	h.p.tick()

	sent := h.transport.sentPayloads()
	if string(sent[len(sent)-1]) != "C" {
		t.Errorf("Expected C sent after A, got %q", sent)
	}
}

func TestHeaderPrependedToBlobs(t *testing.T) {
	h := newHarness(t)
	h.p.handleOpen()
	h.p.handle(event{kind: eventHeader, data: []byte("init|")})

	h.add(0, 1, "seg1")
	h.add(0, 1, "seg2")
	h.p.tick()

	sent := h.transport.sentPayloads()
	if len(sent) != 1 || string(sent[0]) != "init|seg1seg2" {
		t.Errorf("Expected header plus merged segments, got %q", sent)
	}
}

func TestAddBeforeStart(t *testing.T) {
	h := newHarness(t)
	if err := h.p.Add([]byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestNewPipelineValidation(t *testing.T) {
	if _, err := NewPipeline(Config{}, Dependencies{Sink: caption.NewMemorySink()}); err == nil {
		t.Error("Expected error for missing surface")
	}
	if _, err := NewPipeline(Config{}, Dependencies{Surface: &media.StaticSurface{}}); err == nil {
		t.Error("Expected error for missing sink")
	}
	_, err := NewPipeline(Config{Encoding: "flac"}, Dependencies{
		Surface: &media.StaticSurface{},
		Sink:    caption.NewMemorySink(),
	})
	if err == nil {
		t.Error("Expected error for unknown encoding")
	}
}

func TestPipelineStartStop(t *testing.T) {
	surface := &media.StaticSurface{}
	surface.Set(media.TimeRange{Start: 10, End: 12})
	sink := caption.NewMemorySink()
	ft := &fakeTransport{
		onSend: func(h transcription.Handler, _ []byte) {
			go h.OnMessage([]byte(wordsReply))
		},
	}

	p, err := NewPipeline(Config{
		TickPeriod:     10 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
		RequestTimeout: time.Second,
	}, Dependencies{
		Surface: surface,
		Sink:    sink,
		Transport: func(h transcription.Handler) (Transport, error) {
			ft.handler = h
			return ft, nil
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Add([]byte("audio")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	subs, ok := sink.Track(caption.KindSubtitles)
	if !ok {
		t.Fatal("Expected subtitles track after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for subs.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for cues, stats %+v", p.GetStats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if cue := subs.Cues()[0]; cue.Start != 10.5 {
		t.Errorf("Expected cue at 10.5, got %f", cue.Start)
	}

	stats := p.GetStats()
	if !stats.Running || stats.RequestsSent == 0 || stats.ChunksAdded != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}

	if ft.closed != 1 {
		t.Errorf("Expected transport closed once, got %d", ft.closed)
	}
	for _, tr := range sink.Tracks() {
		if tr.Len() != 0 || tr.Mode() != caption.ModeHidden {
			t.Errorf("Expected %s track cleaned and hidden, got %d cues mode %s", tr.Kind(), tr.Len(), tr.Mode())
		}
	}
	if err := p.Add([]byte("late")); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if p.GetStats().Running {
		t.Error("Expected stats to report stopped")
	}
}
