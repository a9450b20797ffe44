package stream

import (
	"fmt"
	"time"

	"github.com/skypro1111/live-caption-client/internal/media"
	"github.com/skypro1111/live-caption-client/internal/metrics"
)

// FailureKind classifies a pipeline failure. None of them is fatal.
type FailureKind string

const (
	// FailureSend means the blob could not be written; it is requeued.
	FailureSend FailureKind = metrics.FailureSend
	// FailureBackend means the backend replied with its failure marker.
	FailureBackend FailureKind = metrics.FailureBackend
	// FailureMalformed means the reply was not valid JSON.
	FailureMalformed FailureKind = metrics.FailureMalformed
	// FailureTimeout means no reply arrived within the request timeout.
	FailureTimeout FailureKind = metrics.FailureTimeout
	// FailureDropped means the bounded overflow queue discarded audio.
	FailureDropped FailureKind = metrics.FailureDropped
	// FailureEncode means the drained parts could not be turned into a blob.
	FailureEncode FailureKind = metrics.FailureEncode
	// FailureAbandoned means the connection closed with a request in flight.
	FailureAbandoned FailureKind = metrics.FailureAbandoned
	// FailureRejected means an added chunk had no usable buffered range and
	// was discarded before reaching the buffer.
	FailureRejected FailureKind = metrics.FailureRejected
)

// Failure describes audio that did not turn into captions, or a send that
// will be retried.
type Failure struct {
	Kind  FailureKind
	Range media.TimeRange
	Bytes int
	Err   error
	At    time.Time
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s failure for %s: %v", f.Kind, f.Range, f.Err)
	}
	return fmt.Sprintf("%s failure for %s", f.Kind, f.Range)
}

func (f Failure) Unwrap() error {
	return f.Err
}
