package partcache

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/rs/zerolog"
)

type (
	// Lister is the slice of the catalog the cache needs. It must return
	// every partition overlapping the insert range, empties included.
	Lister interface {
		ListOverlapping(ctx context.Context, view partition.ViewKey, r timerange.TimeRange) ([]partition.Partition, error)
	}

	// Cache is a per-query-context index of partition metadata for one
	// view instance, bounded by a coverage window. It is owned by the
	// query-serving path that created it and is never shared for writing:
	// it only ever pulls fresher data from the catalog.
	Cache struct {
		lister Lister
		view   partition.ViewKey

		window     *timerange.TimeRange
		partitions []partition.Partition // sorted by InsertTimeRange.Begin
	}
)

func New(lister Lister, view partition.ViewKey) *Cache {
	return &Cache{
		lister: lister,
		view:   view,
	}
}

// Len reports how many partitions are currently indexed, for tests and
// debug logging.
func (c *Cache) Len() int {
	return len(c.partitions)
}

func partitionKey(p *partition.Partition) string {
	return p.InsertTimeRange.String() + "/" + string(p.SourceDataHash)
}

// ensureCovered re-validates the coverage window before the index is
// trusted for r. Only the uncovered deltas are fetched; the cached middle
// is kept.
func (c *Cache) ensureCovered(ctx context.Context, r timerange.TimeRange) error {
	if c.window == nil {
		parts, err := c.lister.ListOverlapping(ctx, c.view, r)
		if err != nil {
			return fmt.Errorf("error in ListOverlapping: %w", err)
		}
		c.partitions = parts
		c.window = &r
		return nil
	}
	if c.window.Contains(r) {
		return nil
	}

	union := c.window.Union(r)
	var deltas []timerange.TimeRange
	if union.Begin.Before(c.window.Begin) {
		deltas = append(deltas, timerange.TimeRange{Begin: union.Begin, End: c.window.Begin})
	}
	if union.End.After(c.window.End) {
		deltas = append(deltas, timerange.TimeRange{Begin: c.window.End, End: union.End})
	}

	seen := make(map[string]bool, len(c.partitions))
	for i := range c.partitions {
		seen[partitionKey(&c.partitions[i])] = true
	}
	for _, delta := range deltas {
		parts, err := c.lister.ListOverlapping(ctx, c.view, delta)
		if err != nil {
			return fmt.Errorf("error in ListOverlapping for delta %s: %w", delta, err)
		}
		for i := range parts {
			// partitions straddling the window edge come back twice
			key := partitionKey(&parts[i])
			if seen[key] {
				continue
			}
			seen[key] = true
			c.partitions = append(c.partitions, parts[i])
		}
	}
	sort.Slice(c.partitions, func(i, j int) bool {
		return c.partitions[i].InsertTimeRange.Begin.Before(c.partitions[j].InsertTimeRange.Begin)
	})
	c.window = &union

	zerolog.Ctx(ctx).Debug().Str("window", union.String()).Int("partitions", len(c.partitions)).Msg("extended partition cache window")
	return nil
}

// FetchOverlappingForScan returns the non-empty partitions whose event
// time range overlaps r, optionally restricted to a file schema hash.
// Empty partitions contribute zero rows and are excluded here; use
// FetchAllForRange when completeness visibility is needed.
func (c *Cache) FetchOverlappingForScan(ctx context.Context, r timerange.TimeRange, fileSchemaHash []byte) ([]partition.Partition, error) {
	if err := c.ensureCovered(ctx, r); err != nil {
		return nil, err
	}
	out := make([]partition.Partition, 0)
	for i := range c.partitions {
		p := &c.partitions[i]
		if p.IsEmpty() {
			continue
		}
		if fileSchemaHash != nil && !bytes.Equal(p.FileSchemaHash, fileSchemaHash) {
			continue
		}
		if !p.EventTimeRange.Overlaps(r) {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// FetchAllForRange returns every partition, empty ones included, whose
// insert range overlaps r. Merge and admin listings use this view to
// verify that a window has no gaps.
func (c *Cache) FetchAllForRange(ctx context.Context, r timerange.TimeRange) ([]partition.Partition, error) {
	if err := c.ensureCovered(ctx, r); err != nil {
		return nil, err
	}
	out := make([]partition.Partition, 0)
	for i := range c.partitions {
		p := &c.partitions[i]
		if insertOverlaps(p.InsertTimeRange, r) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// insertOverlaps is the closed-open overlap test with a special case for
// zero-width insert ranges, which are legal boundaries that a plain
// interval intersection would never match.
func insertOverlaps(p, r timerange.TimeRange) bool {
	if p.IsZeroWidth() {
		return r.ContainsInstant(p.Begin)
	}
	return p.Overlaps(r)
}

// CoverageWindow exposes the current window for debug surfaces.
func (c *Cache) CoverageWindow() (timerange.TimeRange, bool) {
	if c.window == nil {
		return timerange.TimeRange{}, false
	}
	return *c.window, true
}
