package scanplan

import (
	"fmt"

	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/utils"
)

type (
	// ScanUnit references one columnar file for the query engine to read.
	ScanUnit struct {
		FilePath string
		FileSize int64
		NumRows  int64
	}

	// Plan is an engine-neutral scan description over a set of resolved
	// partitions. An empty plan carries the expected output schema so the
	// engine can produce a typed zero-row result instead of failing on a
	// file group with no files.
	Plan struct {
		Units []ScanUnit

		// ColumnNames and ColumnTypes describe the output schema, in
		// matching order.
		ColumnNames []string
		ColumnTypes []string
	}
)

var ErrCorruptPartition = utils.PermError("non-empty partition without a backing file")

// Build turns cache-resolved partitions into a scan plan. Empty
// partitions are filtered out; if nothing remains the result is a valid
// zero-row plan, not an error. A non-empty partition without a file path
// is a bug upstream and fails loudly.
func Build(parts []partition.Partition, columnNames, columnTypes []string) (*Plan, error) {
	plan := &Plan{
		ColumnNames: columnNames,
		ColumnTypes: columnTypes,
	}
	for i := range parts {
		p := &parts[i]
		if p.IsEmpty() {
			continue
		}
		if p.FilePath == nil || *p.FilePath == "" {
			return nil, fmt.Errorf("partition %s with %d rows: %w", p.InsertTimeRange, p.NumRows, ErrCorruptPartition)
		}
		plan.Units = append(plan.Units, ScanUnit{
			FilePath: *p.FilePath,
			FileSize: p.FileSize,
			NumRows:  p.NumRows,
		})
	}
	return plan, nil
}

// IsEmpty reports whether the plan scans no files at all.
func (p *Plan) IsEmpty() bool {
	return len(p.Units) == 0
}

// TotalRows is the row count the engine should expect across all units.
func (p *Plan) TotalRows() int64 {
	var total int64
	for _, u := range p.Units {
		total += u.NumRows
	}
	return total
}

// TotalBytes is the cumulative file size the scan will read.
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, u := range p.Units {
		total += u.FileSize
	}
	return total
}
