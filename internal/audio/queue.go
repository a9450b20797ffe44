package audio

import "fmt"

// OverflowPolicy selects what a full OverflowQueue discards.
type OverflowPolicy string

const (
	// DropOldest evicts the head to make room for the new item.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest rejects the incoming item.
	DropNewest OverflowPolicy = "drop_newest"
)

// ParseOverflowPolicy validates a configured policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, DropNewest:
		return p, nil
	case "":
		return DropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// OverflowQueue holds drained buffers while a request is outstanding.
// A MaxItems of zero means unbounded. Not safe for concurrent use.
type OverflowQueue struct {
	items    []DrainedBuffer
	maxItems int
	policy   OverflowPolicy

	pushed  uint64
	dropped uint64
}

// QueueStats represents queue statistics for monitoring
type QueueStats struct {
	Depth   int    `json:"depth"`
	Bytes   int    `json:"bytes"`
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
}

// NewOverflowQueue creates a queue with the given bound and policy.
func NewOverflowQueue(maxItems int, policy OverflowPolicy) *OverflowQueue {
	if policy == "" {
		policy = DropOldest
	}
	if maxItems < 0 {
		maxItems = 0
	}
	return &OverflowQueue{
		items:    make([]DrainedBuffer, 0, 4),
		maxItems: maxItems,
		policy:   policy,
	}
}

// Push appends an item at the tail, marking it as queued. If the queue is
// full, the item chosen by the policy is returned as evicted.
func (q *OverflowQueue) Push(item DrainedBuffer) (evicted DrainedBuffer, dropped bool) {
	item.Queued = true
	q.pushed++

	if q.maxItems > 0 && len(q.items) >= q.maxItems {
		q.dropped++
		if q.policy == DropNewest {
			return item, true
		}
		evicted = q.items[0]
		q.items[0] = DrainedBuffer{}
		q.items = append(q.items[1:], item)
		return evicted, true
	}

	q.items = append(q.items, item)
	return DrainedBuffer{}, false
}

// PushFront returns an item to the head so it is sent next. It ignores the
// bound, since the item already held a place in line.
func (q *OverflowQueue) PushFront(item DrainedBuffer) {
	item.Queued = true
	q.items = append(q.items, DrainedBuffer{})
	copy(q.items[1:], q.items)
	q.items[0] = item
}

// Pop removes and returns the head.
func (q *OverflowQueue) Pop() (DrainedBuffer, bool) {
	if len(q.items) == 0 {
		return DrainedBuffer{}, false
	}
	item := q.items[0]
	q.items[0] = DrainedBuffer{}
	q.items = q.items[1:]
	return item, true
}

// Peek returns the head without removing it.
func (q *OverflowQueue) Peek() (DrainedBuffer, bool) {
	if len(q.items) == 0 {
		return DrainedBuffer{}, false
	}
	return q.items[0], true
}

// Len returns the number of queued items.
func (q *OverflowQueue) Len() int {
	return len(q.items)
}

// IsEmpty reports whether the queue holds nothing.
func (q *OverflowQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Clear drops every queued item.
func (q *OverflowQueue) Clear() {
	q.items = q.items[:0:0]
}

// GetStats returns current queue statistics
func (q *OverflowQueue) GetStats() QueueStats {
	n := 0
	for _, it := range q.items {
		n += it.Len()
	}
	return QueueStats{
		Depth:   len(q.items),
		Bytes:   n,
		Pushed:  q.pushed,
		Dropped: q.dropped,
	}
}
