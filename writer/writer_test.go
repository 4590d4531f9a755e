package writer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

var (
	base    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	viewKey = partition.ViewKey{ViewSetName: "log_entries", ViewInstanceID: "proc-1"}
)

func TestFilePathDeterministic(t *testing.T) {
	r := timerange.MustNew(base, base.Add(time.Minute))
	hash := utils.HashBytes([]byte("source blocks"))

	a := FilePath(viewKey, r, hash)
	b := FilePath(viewKey, r, hash)
	if a != b {
		t.Fatal("same logical write must derive the same path")
	}
	if !strings.HasPrefix(a, "views/log_entries/proc-1/2024-05-01/10-00-00_") {
		t.Fatalf("unexpected path layout: %s", a)
	}
	if !strings.HasSuffix(a, ".parquet") {
		t.Fatalf("unexpected extension: %s", a)
	}
}

func TestFilePathDistinctWrites(t *testing.T) {
	r := timerange.MustNew(base, base.Add(time.Minute))
	a := FilePath(viewKey, r, utils.HashBytes([]byte("blocks v1")))
	b := FilePath(viewKey, r, utils.HashBytes([]byte("blocks v2")))
	if a == b {
		t.Fatal("different source data must never collide")
	}

	c := FilePath(viewKey, timerange.MustNew(base.Add(time.Minute), base.Add(2*time.Minute)), utils.HashBytes([]byte("blocks v1")))
	if a == c {
		t.Fatal("different insert ranges must never collide")
	}
}

func TestAccumulationEmpty(t *testing.T) {
	acc := newAccumulation()
	if !acc.empty() {
		t.Fatal("fresh accumulation should be empty")
	}
	// a row set with zero rows must not initialize the event bounds
	if err := acc.add(RowSet{}); err != nil {
		t.Fatal(err)
	}
	if !acc.empty() {
		t.Fatal("zero-row set must leave the accumulation empty")
	}
}

func TestAccumulationTracksBounds(t *testing.T) {
	acc := newAccumulation()
	err := acc.add(RowSet{
		MinEventTime: base.Add(-90 * time.Second),
		MaxEventTime: base.Add(30 * time.Second),
		Rows:         []map[string]any{{"msg": "a", "value": 1.0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = acc.add(RowSet{
		MinEventTime: base,
		MaxEventTime: base.Add(105 * time.Second),
		Rows:         []map[string]any{{"msg": "b", "value": 2.0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if acc.empty() {
		t.Fatal("accumulation with rows should not be empty")
	}
	if !acc.minEvent.Equal(base.Add(-90 * time.Second)) {
		t.Fatalf("bad min event time: %s", acc.minEvent)
	}
	if !acc.maxEvent.Equal(base.Add(105 * time.Second)) {
		t.Fatalf("bad max event time: %s", acc.maxEvent)
	}
	if len(acc.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(acc.rows))
	}
}

func TestAccumulationRejectsBadBounds(t *testing.T) {
	acc := newAccumulation()
	err := acc.add(RowSet{
		MinEventTime: base,
		MaxEventTime: base.Add(-time.Second),
		Rows:         []map[string]any{{"msg": "x"}},
	})
	if !errors.Is(err, ErrBadBatch) {
		t.Fatalf("expected ErrBadBatch, got %v", err)
	}

	err = acc.add(RowSet{
		Rows: []map[string]any{{"msg": "x"}},
	})
	if !errors.Is(err, ErrBadBatch) {
		t.Fatalf("expected ErrBadBatch for zero bounds, got %v", err)
	}
}

func TestEncodeRows(t *testing.T) {
	acc := newAccumulation()
	err := acc.add(RowSet{
		MinEventTime: base,
		MaxEventTime: base.Add(time.Second),
		Rows: []map[string]any{
			{"msg": "hello", "value": 1.5},
			{"msg": "world", "value": 2.5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := encodeRows(acc.rows, &acc.schema)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("encoded parquet buffer is empty")
	}
}
