package merge

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

var (
	base    = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	viewKey = partition.ViewKey{ViewSetName: "log_entries", ViewInstanceID: "proc-1"}
)

func hourPartition(hour int, rows int64) partition.Partition {
	begin := base.Add(time.Duration(hour) * time.Hour)
	p := partition.Partition{
		View:            viewKey,
		InsertTimeRange: timerange.MustNew(begin, begin.Add(time.Hour)),
		UpdatedAt:       begin,
		NumRows:         rows,
		SourceDataHash:  utils.HashBytes([]byte{byte(hour)}),
		FileSchemaHash:  utils.HashBytes([]byte("schema")),
	}
	if rows > 0 {
		p.FileSize = rows * 64
		p.FilePath = utils.Ptr(begin.Format("views/log_entries/proc-1/2006-01-02/15-04-05_ab.parquet"))
		// event times lag insertion slightly, crossing the hour boundary
		evt := timerange.MustNew(begin.Add(-2*time.Minute), begin.Add(58*time.Minute))
		p.EventTimeRange = &evt
	}
	return p
}

func TestDailyMergeWithEmptyHours(t *testing.T) {
	// 24 hourly partitions, hours 1 and 3 empty
	var sources []partition.Partition
	var wantRows int64
	for h := 0; h < 24; h++ {
		rows := int64(1000 + h)
		if h == 1 || h == 3 {
			rows = 0
		}
		wantRows += rows
		sources = append(sources, hourPartition(h, rows))
	}

	stats, err := ComputeStats(sources)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.InsertTimeRange.Begin.Equal(base) || !stats.InsertTimeRange.End.Equal(base.Add(24*time.Hour)) {
		t.Fatalf("insert range must span the full day, got %s", stats.InsertTimeRange)
	}
	if stats.NumRows != wantRows {
		t.Fatalf("row conservation: want %d got %d", wantRows, stats.NumRows)
	}
	if stats.NonEmpty != 22 {
		t.Fatalf("expected 22 non-empty sources, got %d", stats.NonEmpty)
	}
	// event bounds fold over non-empty hours only: hour 0 supplies the
	// min, hour 23 the max; the empty hours 1 and 3 contribute nothing
	if stats.EventTimeRange == nil {
		t.Fatal("expected an event time range")
	}
	if !stats.EventTimeRange.Begin.Equal(base.Add(-2 * time.Minute)) {
		t.Fatalf("bad event begin: %s", stats.EventTimeRange.Begin)
	}
	if !stats.EventTimeRange.End.Equal(base.Add(23*time.Hour + 58*time.Minute)) {
		t.Fatalf("bad event end: %s", stats.EventTimeRange.End)
	}
}

func TestAllEmptySources(t *testing.T) {
	sources := []partition.Partition{
		hourPartition(0, 0),
		hourPartition(1, 0),
		hourPartition(2, 0),
	}
	stats, err := ComputeStats(sources)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EventTimeRange != nil {
		t.Fatal("all-empty sources must yield no event time range")
	}
	if stats.NumRows != 0 || stats.NonEmpty != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !stats.InsertTimeRange.End.Equal(base.Add(3 * time.Hour)) {
		t.Fatal("insert range must still span the union")
	}
}

func TestOrderIndependence(t *testing.T) {
	shuffled := []partition.Partition{
		hourPartition(2, 20),
		hourPartition(0, 10),
		hourPartition(1, 0),
	}
	stats, err := ComputeStats(shuffled)
	if err != nil {
		t.Fatal(err)
	}
	if !stats.InsertTimeRange.Begin.Equal(base) || !stats.InsertTimeRange.End.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("bad union over shuffled input: %s", stats.InsertTimeRange)
	}
	if stats.NumRows != 30 {
		t.Fatalf("want 30 rows, got %d", stats.NumRows)
	}
}

func TestCoverageGapDetected(t *testing.T) {
	sources := []partition.Partition{
		hourPartition(0, 10),
		// hour 1 missing entirely: "not yet processed", not "no data"
		hourPartition(2, 20),
	}
	_, err := ComputeStats(sources)
	if !errors.Is(err, ErrCoverageGap) {
		t.Fatalf("expected ErrCoverageGap, got %v", err)
	}
}

func TestOverlapDetected(t *testing.T) {
	a := hourPartition(0, 10)
	b := hourPartition(0, 20)
	b.InsertTimeRange = timerange.MustNew(base.Add(30*time.Minute), base.Add(90*time.Minute))
	_, err := ComputeStats([]partition.Partition{a, b})
	if !errors.Is(err, ErrCoverageGap) {
		t.Fatalf("expected ErrCoverageGap for overlap, got %v", err)
	}
}

func TestInvalidSourceRejected(t *testing.T) {
	bad := hourPartition(0, 10)
	bad.EventTimeRange = nil
	_, err := ComputeStats([]partition.Partition{bad, hourPartition(1, 5)})
	if !errors.Is(err, partition.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestCombinedSourceHashStable(t *testing.T) {
	a := []partition.Partition{hourPartition(0, 1), hourPartition(1, 2)}
	b := []partition.Partition{hourPartition(1, 2), hourPartition(0, 1)}
	if !bytes.Equal(CombinedSourceHash(a), CombinedSourceHash(b)) {
		t.Fatal("combined hash must not depend on input order")
	}
	c := []partition.Partition{hourPartition(0, 1), hourPartition(2, 2)}
	if bytes.Equal(CombinedSourceHash(a), CombinedSourceHash(c)) {
		t.Fatal("different sources must hash differently")
	}
}
