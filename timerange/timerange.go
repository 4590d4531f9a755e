package timerange

import (
	"fmt"
	"time"
)

type (
	// TimeRange is a closed-open [Begin, End) interval of UTC instants.
	// Begin == End is legal and denotes an instantaneous boundary.
	TimeRange struct {
		Begin time.Time
		End   time.Time
	}
)

var ErrInverted = fmt.Errorf("time range end is before begin")

func New(begin, end time.Time) (TimeRange, error) {
	if end.Before(begin) {
		return TimeRange{}, ErrInverted
	}
	return TimeRange{Begin: begin.UTC(), End: end.UTC()}, nil
}

// MustNew panics on an inverted range, for literals in tests and wiring.
func MustNew(begin, end time.Time) TimeRange {
	tr, err := New(begin, end)
	if err != nil {
		panic(err)
	}
	return tr
}

func (tr TimeRange) IsZeroWidth() bool {
	return tr.Begin.Equal(tr.End)
}

// Overlaps reports whether the two closed-open intervals intersect. A
// zero-width range overlaps a range that strictly contains its instant,
// never one that only touches it.
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Begin.Before(other.End) && tr.End.After(other.Begin)
}

// Contains reports whether other fits completely inside tr.
func (tr TimeRange) Contains(other TimeRange) bool {
	return !other.Begin.Before(tr.Begin) && !other.End.After(tr.End)
}

// ContainsInstant reports whether t falls inside the closed-open interval.
func (tr TimeRange) ContainsInstant(t time.Time) bool {
	return !t.Before(tr.Begin) && t.Before(tr.End)
}

// Union returns the smallest range covering both inputs.
func (tr TimeRange) Union(other TimeRange) TimeRange {
	out := tr
	if other.Begin.Before(out.Begin) {
		out.Begin = other.Begin
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}

func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Begin)
}

func (tr TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", tr.Begin.Format(time.RFC3339Nano), tr.End.Format(time.RFC3339Nano))
}
