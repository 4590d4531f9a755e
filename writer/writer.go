package writer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/obslake/obslake/catalog"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/metrics"
	"github.com/obslake/obslake/objstore"
	"github.com/obslake/obslake/parquetschema"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go/writer"
)

var (
	logger = gologger.NewLogger()

	// ErrBadBatch is a data error scoped to one materialization job: the
	// batch is malformed and no partial partition is recorded.
	ErrBadBatch = utils.PermError("malformed row batch")
)

type (
	// RowSet is a chunk of parsed event rows plus the event-time bounds
	// observed across them. Ingestion decodes wire formats upstream; the
	// writer only ever sees deserialized rows.
	RowSet struct {
		MinEventTime time.Time
		MaxEventTime time.Time
		Rows         []map[string]any
	}

	// Request identifies one materialization job: which view, which
	// insertion-time window was scanned, and the hash of the source data
	// that was read to produce the rows.
	Request struct {
		View            partition.ViewKey
		InsertTimeRange timerange.TimeRange
		SourceDataHash  []byte
	}

	accumulation struct {
		rows     []map[string]any
		schema   parquetschema.SchemaAccumulator
		minEvent *time.Time
		maxEvent *time.Time
	}
)

func newAccumulation() *accumulation {
	return &accumulation{
		schema: parquetschema.NewAccumulator(),
	}
}

func (a *accumulation) add(rs RowSet) error {
	if len(rs.Rows) == 0 {
		return nil
	}
	if rs.MinEventTime.IsZero() || rs.MaxEventTime.IsZero() || rs.MaxEventTime.Before(rs.MinEventTime) {
		return fmt.Errorf("row set with %d rows has bad event time bounds [%s, %s]: %w",
			len(rs.Rows), rs.MinEventTime, rs.MaxEventTime, ErrBadBatch)
	}
	if a.minEvent == nil || rs.MinEventTime.Before(*a.minEvent) {
		a.minEvent = utils.Ptr(rs.MinEventTime.UTC())
	}
	if a.maxEvent == nil || rs.MaxEventTime.After(*a.maxEvent) {
		a.maxEvent = utils.Ptr(rs.MaxEventTime.UTC())
	}
	for _, row := range rs.Rows {
		a.rows = append(a.rows, row)
		a.schema.WriteRow(row)
	}
	return nil
}

func (a *accumulation) empty() bool {
	// zero rows and a never-initialized min/max accumulator are the same
	// condition by construction
	return len(a.rows) == 0 || a.minEvent == nil || a.maxEvent == nil
}

// FilePath derives the deterministic object-storage path for a partition
// file. The same logical write retried after a crash lands on the same
// key (safe overwrite); distinct source data hashes never collide.
func FilePath(view partition.ViewKey, insertRange timerange.TimeRange, sourceDataHash []byte) string {
	suffix := sourceDataHash
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("views/%s/%s/%s/%s_%s.parquet",
		view.ViewSetName,
		view.ViewInstanceID,
		insertRange.Begin.UTC().Format("2006-01-02"),
		insertRange.Begin.UTC().Format("15-04-05"),
		hex.EncodeToString(suffix),
	)
}

func encodeRows(rows []map[string]any, schema *parquetschema.SchemaAccumulator) (*bytes.Buffer, error) {
	schemaString, err := schema.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}
	var b bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(schemaString, &b, 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	for _, row := range rows {
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(rowBytes); err != nil {
			return nil, fmt.Errorf("row does not fit the accumulated schema: %s: %w", err.Error(), ErrBadBatch)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return &b, nil
}

// WritePartitionFromRows consumes the row stream and persists exactly one
// partition record for the request's insert range. Zero accumulated rows
// still produce a catalog row: an explicitly empty partition is what
// keeps "no data" distinguishable from "not yet materialized".
func WritePartitionFromRows(ctx context.Context, cat *catalog.Catalog, req Request, rowSets <-chan RowSet) (*partition.Partition, error) {
	ctx = logger.WithContext(ctx)
	log := zerolog.Ctx(ctx).With().
		Str("viewSet", req.View.ViewSetName).
		Str("viewInstance", req.View.ViewInstanceID).
		Str("insertRange", req.InsertTimeRange.String()).
		Logger()

	start := time.Now()
	acc := newAccumulation()

receiving:
	for {
		select {
		case <-ctx.Done():
			// nothing persisted yet; a cancelled job looks like a crash
			// and is reconciled the same way, by sweeps
			return nil, ctx.Err()
		case rs, ok := <-rowSets:
			if !ok {
				break receiving
			}
			if err := acc.add(rs); err != nil {
				return nil, err
			}
		}
	}

	p := &partition.Partition{
		View:            req.View,
		InsertTimeRange: req.InsertTimeRange,
		UpdatedAt:       time.Now().UTC(),
		SourceDataHash:  req.SourceDataHash,
		FileSchemaHash:  acc.schema.SchemaHash(),
	}

	if acc.empty() {
		// notable, auditable event, distinct from an ordinary write
		log.Info().Msg("no matching events in insert range, recording explicit empty partition")
		if err := persist(ctx, cat, p); err != nil {
			return nil, err
		}
		metrics.PartitionsWritten.WithLabelValues("empty").Inc()
		metrics.WriteDuration.Observe(time.Since(start).Seconds())
		return p, nil
	}

	buf, err := encodeRows(acc.rows, &acc.schema)
	if err != nil {
		return nil, err
	}

	evt, err := timerange.New(*acc.minEvent, *acc.maxEvent)
	if err != nil {
		return nil, fmt.Errorf("error in timerange.New for event bounds: %w", err)
	}
	p.EventTimeRange = &evt
	p.NumRows = int64(len(acc.rows))
	p.FileSize = int64(buf.Len())
	p.FilePath = utils.Ptr(FilePath(req.View, req.InsertTimeRange, req.SourceDataHash))

	if err := p.Validate(); err != nil {
		return nil, err
	}

	// file write settles before the metadata insert, so a crash in
	// between leaves only a harmless unreferenced file
	if _, err := objstore.WriteBytes(ctx, *p.FilePath, buf, nil); err != nil {
		return nil, utils.RetryableError{Err: fmt.Errorf("error uploading partition file: %w", err)}
	}
	if err := persist(ctx, cat, p); err != nil {
		return nil, err
	}

	log.Debug().Int64("numRows", p.NumRows).Int64("fileSize", p.FileSize).Str("filePath", *p.FilePath).Msg("wrote partition")
	metrics.PartitionsWritten.WithLabelValues("data").Inc()
	metrics.BytesWritten.Add(float64(p.FileSize))
	metrics.WriteDuration.Observe(time.Since(start).Seconds())
	return p, nil
}

func persist(ctx context.Context, cat *catalog.Catalog, p *partition.Partition) error {
	err := cat.InsertPartitionSuperseding(ctx, p)
	if errors.Is(err, catalog.ErrDuplicatePartition) {
		// idempotent retry: a prior attempt already committed this exact
		// partition, and the deterministic path overwrote the same file
		zerolog.Ctx(ctx).Info().Str("insertRange", p.InsertTimeRange.String()).Msg("partition already materialized")
		return nil
	}
	if err != nil {
		return fmt.Errorf("error persisting partition metadata: %w", err)
	}
	return nil
}
