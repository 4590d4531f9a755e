package partition

import (
	"fmt"
	"time"

	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

type (
	// ViewKey identifies which logical table and process/stream scope a
	// partition belongs to.
	ViewKey struct {
		ViewSetName    string
		ViewInstanceID string
	}

	// Partition is one materialized chunk of a view for a bounded
	// insertion-time range. An empty partition (the insert range was
	// scanned and matched zero events) has EventTimeRange and FilePath
	// nil and NumRows and FileSize zero. Recording empties is what keeps
	// "no data" distinguishable from "not yet materialized".
	Partition struct {
		View ViewKey

		// InsertTimeRange is always present, even for empty partitions.
		InsertTimeRange timerange.TimeRange

		// EventTimeRange is nil for empty partitions. Event time is an
		// independent axis from insertion time and need not fall inside
		// InsertTimeRange.
		EventTimeRange *timerange.TimeRange

		UpdatedAt time.Time

		FilePath *string
		FileSize int64
		NumRows  int64

		SourceDataHash []byte
		FileSchemaHash []byte
	}
)

// ErrInvariantViolation indicates a bug, not bad input: a partition whose
// empty/non-empty facts disagree with each other.
var ErrInvariantViolation = utils.PermError("partition invariant violation")

func (p *Partition) IsEmpty() bool {
	return p.NumRows == 0
}

// Validate checks the four-way agreement between NumRows, EventTimeRange,
// FilePath, and FileSize. Every code path that constructs a Partition is
// expected to pass this before the record is trusted.
func (p *Partition) Validate() error {
	if p.View.ViewSetName == "" || p.View.ViewInstanceID == "" {
		return fmt.Errorf("missing view identity: %w", ErrInvariantViolation)
	}
	if p.InsertTimeRange.End.Before(p.InsertTimeRange.Begin) {
		return fmt.Errorf("inverted insert time range %s: %w", p.InsertTimeRange, ErrInvariantViolation)
	}
	if p.NumRows == 0 {
		if p.EventTimeRange != nil {
			return fmt.Errorf("empty partition with event time range %s: %w", p.EventTimeRange, ErrInvariantViolation)
		}
		if p.FilePath != nil {
			return fmt.Errorf("empty partition with file path %s: %w", *p.FilePath, ErrInvariantViolation)
		}
		if p.FileSize != 0 {
			return fmt.Errorf("empty partition with file size %d: %w", p.FileSize, ErrInvariantViolation)
		}
		return nil
	}
	if p.EventTimeRange == nil {
		return fmt.Errorf("%d rows but no event time range: %w", p.NumRows, ErrInvariantViolation)
	}
	if p.FilePath == nil || *p.FilePath == "" {
		return fmt.Errorf("%d rows but no file path: %w", p.NumRows, ErrInvariantViolation)
	}
	if p.FileSize <= 0 {
		return fmt.Errorf("%d rows but file size %d: %w", p.NumRows, p.FileSize, ErrInvariantViolation)
	}
	return nil
}
