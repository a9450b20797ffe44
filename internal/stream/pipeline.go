package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/live-caption-client/internal/audio"
	"github.com/skypro1111/live-caption-client/internal/caption"
	"github.com/skypro1111/live-caption-client/internal/media"
	"github.com/skypro1111/live-caption-client/internal/metrics"
	"github.com/skypro1111/live-caption-client/internal/transcription"
)

var (
	// ErrNotStarted is returned when audio arrives before Start.
	ErrNotStarted = errors.New("pipeline not started")
	// ErrStopped is returned when audio arrives after Stop.
	ErrStopped = errors.New("pipeline stopped")
)

// Transport is the request/response channel to the transcription backend.
type Transport interface {
	Open(ctx context.Context) error
	Send(payload []byte) error
	Recycle()
	Close() error
	State() transcription.State
}

// TransportFactory builds a transport that reports to handler.
type TransportFactory func(handler transcription.Handler) (Transport, error)

// Config contains pipeline configuration
type Config struct {
	Mode           caption.PlaybackMode
	TickPeriod     time.Duration
	SettleDelay    time.Duration
	RequestTimeout time.Duration // zero disables the timeout
	MaxQueued      int           // zero means unbounded
	OverflowPolicy audio.OverflowPolicy
	Encoding       audio.Encoding
	PCM            audio.PCMFormat
	GroupSize      int
	Tracks         caption.TrackManagerConfig
	Channel        transcription.Config
}

// Dependencies are the collaborators a pipeline works against.
type Dependencies struct {
	Surface   media.Surface
	Sink      caption.Sink
	Transport TransportFactory // nil dials Config.Channel over websocket
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	OnFailure func(Failure)
}

// Request is the transcription request currently in flight.
type Request struct {
	ID     uuid.UUID       `json:"id"`
	Range  media.TimeRange `json:"range"`
	Bytes  int             `json:"bytes"`
	Queued bool            `json:"queued"`
	SentAt time.Time       `json:"sent_at"`

	seq uint64
}

// Stats represents pipeline statistics for monitoring
type Stats struct {
	Running      bool                        `json:"running"`
	Busy         bool                        `json:"busy"`
	Mode         string                      `json:"mode"`
	ChunksAdded  uint64                      `json:"chunks_added"`
	BytesAdded   uint64                      `json:"bytes_added"`
	RejectedAdds uint64                      `json:"rejected_adds"`
	RequestsSent uint64                      `json:"requests_sent"`
	Replies      uint64                      `json:"replies"`
	CuesEmitted  uint64                      `json:"cues_emitted"`
	Failures     map[FailureKind]uint64      `json:"failures"`
	Buffer       audio.BufferStats           `json:"buffer"`
	Queue        audio.QueueStats            `json:"queue"`
	Pending      *Request                    `json:"pending,omitempty"`
	LastReplyAt  time.Time                   `json:"last_reply_at,omitempty"`
	Channel      *transcription.ChannelStats `json:"channel,omitempty"`
}

// Pipeline turns buffered media into caption cues. A single goroutine owns
// the chunk buffer, the overflow queue and the busy flag; every input,
// including transport callbacks and timers, reaches it as an event.
type Pipeline struct {
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	surface    media.Surface
	tracks     *caption.TrackManager
	translator *caption.Translator
	encoder    audio.Encoder
	transport  Transport
	onFailure  func(Failure)

	events chan event

	// owned by the loop
	buffer       *audio.ChunkBuffer
	queue        *audio.OverflowQueue
	header       []byte
	busy         bool
	pending      *Request
	requestSeq   uint64
	timerSeq     uint64
	settleTimers map[uint64]*time.Timer
	timeoutTimer *time.Timer
	counters     Stats

	// lifecycle
	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	loopDone chan struct{}

	statsMu sync.RWMutex
	stats   Stats
}

// NewPipeline creates a pipeline. Nothing runs until Start.
func NewPipeline(config Config, deps Dependencies) (*Pipeline, error) {
	if deps.Surface == nil {
		return nil, fmt.Errorf("media surface cannot be nil")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("caption sink cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	if config.TickPeriod <= 0 {
		config.TickPeriod = time.Second
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.Mode == "" {
		config.Mode = caption.PlaybackLive
	}

	encoder, err := audio.NewEncoder(config.Encoding, config.PCM)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger := deps.Logger.With(slog.String("component", "pipeline"))

	p := &Pipeline{
		config:       config,
		logger:       logger,
		metrics:      deps.Metrics,
		surface:      deps.Surface,
		translator:   caption.NewTranslator(config.GroupSize),
		encoder:      encoder,
		onFailure:    deps.OnFailure,
		events:       make(chan event, 256),
		buffer:       audio.NewChunkBuffer(),
		queue:        audio.NewOverflowQueue(config.MaxQueued, config.OverflowPolicy),
		busy:         true,
		settleTimers: make(map[uint64]*time.Timer),
		counters:     Stats{Failures: make(map[FailureKind]uint64)},
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	p.tracks = caption.NewTrackManager(deps.Sink, config.Tracks, caption.NewPruner(config.Mode), deps.Logger)

	factory := deps.Transport
	if factory == nil {
		factory = func(h transcription.Handler) (Transport, error) {
			return transcription.NewChannel(config.Channel, h, deps.Logger)
		}
	}
	transport, err := factory(channelEvents{p: p})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	p.transport = transport

	p.publishStats()

	return p, nil
}

// Start configures the caption tracks, opens the transport and starts the
// tick loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already started")
	}

	p.tracks.Configure()

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	go p.run(loopCtx)

	if err := p.transport.Open(loopCtx); err != nil {
		p.Stop()
		return fmt.Errorf("failed to open transport: %w", err)
	}

	p.logger.Info("Caption pipeline started",
		slog.String("mode", string(p.config.Mode)),
		slog.Duration("tick_period", p.config.TickPeriod),
		slog.Duration("settle_delay", p.config.SettleDelay),
		slog.Duration("request_timeout", p.config.RequestTimeout),
		slog.Int("max_queued", p.config.MaxQueued))

	return nil
}

// Stop halts the pipeline: timers are cancelled, the transport is closed
// without reconnecting, the tracks are cleaned, and buffered or queued audio
// is discarded. It returns after the loop has exited and is safe to call
// more than once.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.done)
	p.mu.Unlock()

	p.cancel()
	<-p.loopDone

	for id, t := range p.settleTimers {
		t.Stop()
		delete(p.settleTimers, id)
	}
	p.stopTimeout()

	err := p.transport.Close()

	p.tracks.Clean()

	discarded := p.buffer.Size() + p.queue.GetStats().Bytes
	p.buffer.Reset()
	p.queue.Clear()
	p.header = nil
	p.pending = nil
	p.busy = true
	p.publishStats()

	p.logger.Info("Caption pipeline stopped",
		slog.Int("discarded_bytes", discarded),
		slog.Uint64("requests_sent", p.counters.RequestsSent),
		slog.Uint64("replies", p.counters.Replies))

	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Add hands a chunk of media bytes to the pipeline. The bytes are copied
// now; the buffered range they belong to is read from the surface once the
// settle delay has passed.
func (p *Pipeline) Add(data []byte) error {
	if err := p.acceptInput(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	if !p.post(event{kind: eventAdd, data: owned}) {
		return ErrStopped
	}
	return nil
}

// SetHeader sets the bytes prepended to every blob, such as an fMP4 init
// segment.
func (p *Pipeline) SetHeader(data []byte) {
	if p.acceptInput() != nil {
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	p.post(event{kind: eventHeader, data: owned})
}

// Tracks returns the track manager.
func (p *Pipeline) Tracks() *caption.TrackManager {
	return p.tracks
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	out := p.stats
	out.Failures = make(map[FailureKind]uint64, len(p.stats.Failures))
	for k, v := range p.stats.Failures {
		out.Failures[k] = v
	}
	if p.stats.Pending != nil {
		req := *p.stats.Pending
		out.Pending = &req
	}
	if p.stats.Channel != nil {
		ch := *p.stats.Channel
		out.Channel = &ch
	}
	return out
}

func (p *Pipeline) acceptInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if !p.started {
		return ErrNotStarted
	}
	return nil
}

// post delivers an event to the loop. It gives up once the pipeline is
// stopping so late callbacks and timers never block.
func (p *Pipeline) post(ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	case <-p.loopDone:
		return false
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.config.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		case ev := <-p.events:
			p.handle(ev)
		}
		p.publishStats()
	}
}

func (p *Pipeline) handle(ev event) {
	switch ev.kind {
	case eventAdd:
		p.scheduleSettle(ev.data)
	case eventSettled:
		if _, ok := p.settleTimers[ev.id]; !ok {
			return
		}
		delete(p.settleTimers, ev.id)
		p.settle(ev.data)
	case eventHeader:
		p.header = ev.data
	case eventOpen:
		p.handleOpen()
	case eventClose:
		p.handleClose(ev.err)
	case eventMessage:
		p.handleMessage(ev.data)
	case eventError:
		p.handleError(ev.err)
	case eventTimeout:
		p.handleTimeout(ev.id)
	default:
		p.logger.Warn("Unknown pipeline event", slog.String("kind", ev.kind.String()))
	}
}

func (p *Pipeline) scheduleSettle(data []byte) {
	if p.config.SettleDelay == 0 {
		p.settle(data)
		return
	}

	p.timerSeq++
	id := p.timerSeq
	p.settleTimers[id] = time.AfterFunc(p.config.SettleDelay, func() {
		p.post(event{kind: eventSettled, data: data, id: id})
	})
}

// settle files data under the surface's current buffered range.
func (p *Pipeline) settle(data []byte) {
	observed, err := p.surface.BufferedRange()
	if err != nil {
		p.reject(observed, data, fmt.Errorf("buffered range unavailable: %w", err))
		return
	}

	effective, err := p.buffer.Add(data, observed)
	if err != nil {
		p.reject(observed, data, err)
		return
	}

	p.counters.ChunksAdded++
	p.counters.BytesAdded += uint64(len(data))
	p.metrics.RecordChunkAdded(len(data))

	p.logger.Debug("Chunk buffered",
		slog.Int("bytes", len(data)),
		slog.Float64("start", effective.Start),
		slog.Float64("end", effective.End))
}

// reject discards a chunk that could not be filed under a range. Add has
// already returned by now, so the failure hook is how the caller hears of it.
func (p *Pipeline) reject(observed media.TimeRange, data []byte, err error) {
	p.counters.RejectedAdds++
	p.fail(Failure{Kind: FailureRejected, Range: observed, Bytes: len(data), Err: err})
}

// tick moves audio toward the backend. While a request is outstanding fresh
// audio is parked in the overflow queue; otherwise the oldest queued blob,
// or else the fresh buffer, is sent.
func (p *Pipeline) tick() {
	if p.busy {
		drained := p.buffer.Drain()
		if !drained.HasData() {
			return
		}
		p.enqueue(drained)
		p.buffer.Clear()
		return
	}

	// a queued item goes first; fresh audio stays buffered and is queued
	// behind it on the next busy tick
	item, ok := p.queue.Pop()
	if !ok {
		item = p.buffer.Drain()
		if !item.HasData() {
			return
		}
		p.buffer.Clear()
	}

	p.send(item)
}

func (p *Pipeline) enqueue(item audio.DrainedBuffer) {
	evicted, dropped := p.queue.Push(item)
	p.metrics.RecordQueued()

	p.logger.Debug("Busy, queued audio blob",
		slog.Int("queued", p.queue.Len()),
		slog.Int("bytes", item.Len()))

	if dropped {
		p.fail(Failure{
			Kind:  FailureDropped,
			Range: evicted.Range,
			Bytes: evicted.Len(),
			Err:   fmt.Errorf("overflow queue full (%d items, policy %s)", p.config.MaxQueued, p.config.OverflowPolicy),
		})
	}
}

func (p *Pipeline) send(item audio.DrainedBuffer) {
	blob, err := p.encoder.Encode(p.header, item.Parts)
	if err != nil {
		p.fail(Failure{Kind: FailureEncode, Range: item.Range, Bytes: item.Len(), Err: err})
		return
	}

	p.busy = true
	p.requestSeq++
	req := &Request{
		ID:     uuid.New(),
		Range:  item.Range,
		Bytes:  len(blob),
		Queued: item.Queued,
		SentAt: time.Now(),
		seq:    p.requestSeq,
	}

	if err := p.transport.Send(blob); err != nil {
		p.busy = false
		p.queue.PushFront(item)
		p.fail(Failure{Kind: FailureSend, Range: item.Range, Bytes: item.Len(), Err: err})
		return
	}

	p.pending = req
	p.armTimeout(req)

	p.counters.RequestsSent++
	p.metrics.RecordTranscriptionRequest(len(blob), item.Range.Duration())

	p.logger.Info("Sent audio blob for transcription",
		slog.String("request_id", req.ID.String()),
		slog.Bool("queued", req.Queued),
		slog.Int("bytes", req.Bytes),
		slog.Float64("start", req.Range.Start),
		slog.Float64("end", req.Range.End),
		slog.Int("queue_depth", p.queue.Len()))
}

func (p *Pipeline) handleOpen() {
	p.busy = false
	p.metrics.RecordConnect()
	p.logger.Info("Transcription channel open, no longer busy")
}

// handleClose keeps the pipeline busy until the transport reopens. A
// request in flight on the dropped connection is not retried.
func (p *Pipeline) handleClose(err error) {
	p.busy = true
	p.metrics.RecordDisconnect()

	if req := p.pending; req != nil {
		p.pending = nil
		p.stopTimeout()
		p.fail(Failure{Kind: FailureAbandoned, Range: req.Range, Bytes: req.Bytes, Err: err})
	}

	attrs := []any{slog.Int("queue_depth", p.queue.Len())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	p.logger.Info("Transcription channel closed, busy until reopened", attrs...)
}

func (p *Pipeline) handleMessage(data []byte) {
	req := p.pending
	if req == nil {
		p.logger.Warn("Ignoring reply with no request outstanding", slog.Int("bytes", len(data)))
		return
	}
	p.pending = nil
	p.stopTimeout()
	p.counters.Replies++
	p.counters.LastReplyAt = time.Now()

	resp, err := transcription.ParseResponse(data)
	if err != nil {
		p.busy = false
		p.fail(Failure{Kind: FailureMalformed, Range: req.Range, Bytes: req.Bytes, Err: err})
		return
	}
	if resp.Failed {
		p.busy = false
		p.fail(Failure{
			Kind:  FailureBackend,
			Range: req.Range,
			Bytes: req.Bytes,
			Err:   fmt.Errorf("backend failed: %s", resp.FailReason),
		})
		return
	}

	translation := p.translator.Translate(resp, req.Range)
	emitted := p.tracks.Emit(translation)
	p.counters.CuesEmitted += uint64(emitted.Metadata + emitted.Subtitles)
	p.metrics.RecordCues(string(caption.KindMetadata), emitted.Metadata)
	p.metrics.RecordCues(string(caption.KindSubtitles), emitted.Subtitles)

	window, err := p.surface.BufferedRange()
	if err != nil {
		window = req.Range
	}
	p.metrics.RecordPruned(p.tracks.Prune(window))

	p.busy = false
	p.metrics.RecordTranscriptionSuccess(time.Since(req.SentAt).Seconds())

	p.logger.Info("Translated transcript into cues",
		slog.String("request_id", req.ID.String()),
		slog.Float64("start", req.Range.Start),
		slog.Float64("end", req.Range.End),
		slog.Int("subtitle_cues", emitted.Subtitles),
		slog.Int("metadata_cues", emitted.Metadata),
		slog.Duration("latency", time.Since(req.SentAt)))
}

func (p *Pipeline) handleError(err error) {
	if err == nil {
		return
	}
	p.logger.Error("Transcription channel error", slog.String("error", err.Error()))
}

// handleTimeout gives up on the request and recycles the connection so a
// late reply cannot be credited to the next request.
func (p *Pipeline) handleTimeout(seq uint64) {
	req := p.pending
	if req == nil || req.seq != seq {
		return
	}
	p.pending = nil
	p.timeoutTimer = nil
	p.busy = false

	p.fail(Failure{
		Kind:  FailureTimeout,
		Range: req.Range,
		Bytes: req.Bytes,
		Err:   fmt.Errorf("no reply after %s", p.config.RequestTimeout),
	})
	p.transport.Recycle()
}

func (p *Pipeline) armTimeout(req *Request) {
	p.stopTimeout()
	if p.config.RequestTimeout <= 0 {
		return
	}
	seq := req.seq
	p.timeoutTimer = time.AfterFunc(p.config.RequestTimeout, func() {
		p.post(event{kind: eventTimeout, id: seq})
	})
}

func (p *Pipeline) stopTimeout() {
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
		p.timeoutTimer = nil
	}
}

func (p *Pipeline) fail(f Failure) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	p.counters.Failures[f.Kind]++
	p.metrics.RecordFailure(string(f.Kind))

	attrs := []any{
		slog.String("kind", string(f.Kind)),
		slog.Float64("start", f.Range.Start),
		slog.Float64("end", f.Range.End),
		slog.Int("bytes", f.Bytes),
	}
	if f.Err != nil {
		attrs = append(attrs, slog.String("error", f.Err.Error()))
	}
	p.logger.Warn("Caption pipeline failure", attrs...)

	if p.onFailure != nil {
		p.onFailure(f)
	}
}

// publishStats copies loop-owned state into the snapshot read by GetStats.
func (p *Pipeline) publishStats() {
	bufStats := p.buffer.GetStats()
	queueStats := p.queue.GetStats()

	p.metrics.SetBufferBytes(bufStats.Bytes)
	p.metrics.SetQueueDepth(queueStats.Depth)
	p.metrics.SetChannelState(int(p.transport.State()))

	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()

	snapshot := p.counters
	snapshot.Running = running
	snapshot.Busy = p.busy
	snapshot.Mode = string(p.config.Mode)
	snapshot.Buffer = bufStats
	snapshot.Queue = queueStats
	snapshot.Failures = make(map[FailureKind]uint64, len(p.counters.Failures))
	for k, v := range p.counters.Failures {
		snapshot.Failures[k] = v
	}
	if p.pending != nil {
		req := *p.pending
		snapshot.Pending = &req
	}
	if s, ok := p.transport.(interface {
		GetStats() transcription.ChannelStats
	}); ok {
		ch := s.GetStats()
		snapshot.Channel = &ch
	}

	p.statsMu.Lock()
	p.stats = snapshot
	p.statsMu.Unlock()
}
