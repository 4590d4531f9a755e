package merge

import (
	"fmt"
	"sort"

	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

type (
	// Stats are the combined statistics of a set of merge sources.
	Stats struct {
		// InsertTimeRange spans the union of every source, empty or not.
		// This is what preserves the completeness guarantee at the
		// coarser granularity.
		InsertTimeRange timerange.TimeRange

		// EventTimeRange folds min/max over the non-empty sources only;
		// nil when every source was empty.
		EventTimeRange *timerange.TimeRange

		NumRows  int64
		NonEmpty int
	}
)

var (
	// ErrCoverageGap means the sources do not tile their window: some
	// insert range in between was never materialized, so merging would
	// silently lose the distinction between "no data" and "not yet
	// processed". The window should be retried once coverage is complete.
	ErrCoverageGap = utils.RetryableError{Err: fmt.Errorf("source partitions do not cover a contiguous insert range")}

	errNoSources = utils.PermError("statistics requested over zero partitions")
)

// ComputeStats reduces source partitions into merged statistics. Empty
// partitions are filtered out before the event-time fold; their absent
// event range cannot participate in a min/max reduction. They still count
// toward insert-range coverage.
func ComputeStats(sources []partition.Partition) (Stats, error) {
	if len(sources) == 0 {
		return Stats{}, errNoSources
	}

	ordered := make([]partition.Partition, len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].InsertTimeRange.Begin.Before(ordered[j].InsertTimeRange.Begin)
	})

	stats := Stats{InsertTimeRange: ordered[0].InsertTimeRange}
	prevEnd := ordered[0].InsertTimeRange.End
	for i := range ordered {
		src := &ordered[i]
		if err := src.Validate(); err != nil {
			return Stats{}, err
		}
		if i > 0 {
			if src.InsertTimeRange.Begin.After(prevEnd) {
				return Stats{}, fmt.Errorf("gap before %s: %w", src.InsertTimeRange, ErrCoverageGap)
			}
			if src.InsertTimeRange.Begin.Before(prevEnd) {
				return Stats{}, fmt.Errorf("source %s overlaps the previous one: %w", src.InsertTimeRange, ErrCoverageGap)
			}
			prevEnd = src.InsertTimeRange.End
		}
		stats.InsertTimeRange = stats.InsertTimeRange.Union(src.InsertTimeRange)

		if src.IsEmpty() {
			continue
		}
		stats.NonEmpty++
		stats.NumRows += src.NumRows
		if stats.EventTimeRange == nil {
			evt := *src.EventTimeRange
			stats.EventTimeRange = &evt
		} else {
			evt := stats.EventTimeRange.Union(*src.EventTimeRange)
			stats.EventTimeRange = &evt
		}
	}
	return stats, nil
}

// CombinedSourceHash derives the merged partition's source hash from its
// sources' hashes in insert order, so re-running the same merge is
// recognizable as the same logical write.
func CombinedSourceHash(sources []partition.Partition) []byte {
	ordered := make([]partition.Partition, len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].InsertTimeRange.Begin.Before(ordered[j].InsertTimeRange.Begin)
	})
	var concat []byte
	for i := range ordered {
		concat = append(concat, ordered[i].SourceDataHash...)
	}
	return utils.HashBytes(concat)
}
