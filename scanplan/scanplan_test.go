package scanplan

import (
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
	columns = []string{"Time", "Msg"}
	types   = []string{"float", "string"}
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
		p.FilePath = utils.Ptr(begin.Format("views/log_entries/proc-1/2006-01-02/15-04-05.parquet"))
		evt := timerange.MustNew(begin, begin.Add(time.Hour))
		p.EventTimeRange = &evt
	}
	return p
}

func TestAllEmptyYieldsZeroRowPlan(t *testing.T) {
	plan, err := Build([]partition.Partition{hourPartition(0, 0), hourPartition(1, 0)}, columns, types)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.IsEmpty() {
		t.Fatal("expected an empty plan")
	}
	if plan.TotalRows() != 0 {
		t.Fatal("empty plan must report zero rows")
	}
	if len(plan.ColumnNames) != 2 {
		t.Fatal("empty plan must keep the output schema")
	}
}

func TestNoInputYieldsZeroRowPlan(t *testing.T) {
	plan, err := Build(nil, columns, types)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.IsEmpty() {
		t.Fatal("expected an empty plan")
	}
}

func TestEmptiesSkipped(t *testing.T) {
	// 24 hourly partitions with hours 1 and 3 empty: the plan must
	// reference exactly 22 files and conserve the row total
	var parts []partition.Partition
	var wantRows int64
	for h := 0; h < 24; h++ {
		rows := int64(100 + h)
		if h == 1 || h == 3 {
			rows = 0
		}
		wantRows += rows
		parts = append(parts, hourPartition(h, rows))
	}

	plan, err := Build(parts, columns, types)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Units) != 22 {
		t.Fatalf("expected 22 scan units, got %d", len(plan.Units))
	}
	if plan.TotalRows() != wantRows {
		t.Fatalf("row total mismatch: want %d got %d", wantRows, plan.TotalRows())
	}
	for _, u := range plan.Units {
		if u.FilePath == "" || u.FileSize <= 0 {
			t.Fatalf("plan references a nonexistent file: %+v", u)
		}
	}
}

func TestCorruptPartitionFailsLoudly(t *testing.T) {
	bad := hourPartition(0, 100)
	bad.FilePath = nil
	_, err := Build([]partition.Partition{bad}, columns, types)
	if !errors.Is(err, ErrCorruptPartition) {
		t.Fatalf("expected ErrCorruptPartition, got %v", err)
	}
}
