package audio

import (
	"fmt"

	"github.com/skypro1111/live-caption-client/internal/media"
)

// Chunk is a run of audio bytes tagged with the media range it covers.
type Chunk struct {
	Data  []byte
	Range media.TimeRange
}

// DrainedBuffer is the unit handed to the scheduler: every held chunk's bytes
// in insertion order plus the range spanning them.
type DrainedBuffer struct {
	Range  media.TimeRange
	Parts  [][]byte
	Queued bool // went through the overflow queue
}

// Len returns the total payload size in bytes.
func (d DrainedBuffer) Len() int {
	n := 0
	for _, p := range d.Parts {
		n += len(p)
	}
	return n
}

// HasData reports whether there is anything worth sending.
func (d DrainedBuffer) HasData() bool {
	return d.Len() > 0
}

// ChunkBuffer accumulates audio chunks, merging chunks whose effective ranges
// coincide. It is owned by a single goroutine and does no locking.
type ChunkBuffer struct {
	chunks []*Chunk

	// last range reported by the surface and the range it was translated to
	lastObserved  media.TimeRange
	lastEffective media.TimeRange
	hasLast       bool

	// Statistics
	totalBytes uint64
	totalAdds  uint64
	merges     uint64
	translated uint64
	rejected   uint64
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Chunks     int    `json:"chunks"`
	Bytes      int    `json:"bytes"`
	TotalAdds  uint64 `json:"total_adds"`
	TotalBytes uint64 `json:"total_bytes"`
	Merges     uint64 `json:"merges"`
	Translated uint64 `json:"translated"`
	Rejected   uint64 `json:"rejected"`
}

// NewChunkBuffer creates an empty buffer.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{
		chunks: make([]*Chunk, 0, 8),
	}
}

// Add appends data observed under the given buffered range and returns the
// effective range it was stored under.
//
// When the surface reports a window different from the previous one, the
// start is moved to the previous end so consecutive chunks stay contiguous
// instead of overlapping. A repeat of the previous window maps to the previous
// effective range, so its bytes merge into the same chunk.
func (b *ChunkBuffer) Add(data []byte, observed media.TimeRange) (media.TimeRange, error) {
	if err := observed.Validate(); err != nil {
		b.rejected++
		return media.TimeRange{}, err
	}

	effective := observed
	if b.hasLast {
		if observed.Equal(b.lastObserved) {
			effective = b.lastEffective
		} else {
			effective.Start = b.lastEffective.End
			b.translated++
		}
	}
	if err := effective.Validate(); err != nil {
		b.rejected++
		return media.TimeRange{}, fmt.Errorf("buffered window moved backwards from %s to %s: %w",
			b.lastEffective, observed, err)
	}

	b.lastObserved = observed
	b.lastEffective = effective
	b.hasLast = true

	if len(data) == 0 {
		return effective, nil
	}

	b.totalAdds++
	b.totalBytes += uint64(len(data))

	for _, c := range b.chunks {
		if c.Range.Equal(effective) {
			c.Data = append(c.Data, data...)
			b.merges++
			return effective, nil
		}
	}

	owned := make([]byte, len(data))
	copy(owned, data)
	b.chunks = append(b.chunks, &Chunk{Data: owned, Range: effective})

	return effective, nil
}

// Drain returns the held chunks as one DrainedBuffer without clearing them.
// The scheduler calls Clear once it has committed to the drained data.
func (b *ChunkBuffer) Drain() DrainedBuffer {
	parts := make([][]byte, 0, len(b.chunks))
	for _, c := range b.chunks {
		parts = append(parts, c.Data[:len(c.Data):len(c.Data)])
	}

	var r media.TimeRange
	if len(b.chunks) > 0 {
		r.Start = b.chunks[0].Range.Start
		r.End = b.chunks[len(b.chunks)-1].Range.End
	} else {
		r.End = r.Start
	}

	return DrainedBuffer{Range: r, Parts: parts}
}

// Clear drops every held chunk. The range translation state is kept.
func (b *ChunkBuffer) Clear() {
	for i := range b.chunks {
		b.chunks[i] = nil
	}
	b.chunks = b.chunks[:0]
}

// Reset clears the buffer and forgets the last observed range.
func (b *ChunkBuffer) Reset() {
	b.Clear()
	b.lastObserved = media.TimeRange{}
	b.lastEffective = media.TimeRange{}
	b.hasLast = false
}

// Len returns the number of held chunks.
func (b *ChunkBuffer) Len() int {
	return len(b.chunks)
}

// Size returns the number of held bytes.
func (b *ChunkBuffer) Size() int {
	n := 0
	for _, c := range b.chunks {
		n += len(c.Data)
	}
	return n
}

// GetStats returns current buffer statistics
func (b *ChunkBuffer) GetStats() BufferStats {
	return BufferStats{
		Chunks:     len(b.chunks),
		Bytes:      b.Size(),
		TotalAdds:  b.totalAdds,
		TotalBytes: b.totalBytes,
		Merges:     b.merges,
		Translated: b.translated,
		Rejected:   b.rejected,
	}
}
