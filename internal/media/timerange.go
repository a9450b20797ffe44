package media

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned for ranges with negative bounds or end < start.
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is a [start, end) interval on the media timeline, in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewTimeRange builds a validated range.
func NewTimeRange(start, end float64) (TimeRange, error) {
	r := TimeRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return TimeRange{}, err
	}
	return r, nil
}

// Validate checks the range invariants.
func (r TimeRange) Validate() error {
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("%w: negative bound [%f, %f)", ErrInvalidRange, r.Start, r.End)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: end %f before start %f", ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Equal reports whether both bounds are exactly equal. No epsilon: the
// surface hands back the same floats for an unchanged window.
func (r TimeRange) Equal(other TimeRange) bool {
	return r.Start == other.Start && r.End == other.End
}

// Duration returns End - Start in seconds.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// IsEmpty reports a zero-length range.
func (r TimeRange) IsEmpty() bool {
	return r.End == r.Start
}

// Contains reports whether t falls inside [Start, End).
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", r.Start, r.End)
}
