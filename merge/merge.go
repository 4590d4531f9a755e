package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jackc/pgx/v4"
	"github.com/obslake/obslake/catalog"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/metrics"
	"github.com/obslake/obslake/objstore"
	"github.com/obslake/obslake/parquetschema"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
	"github.com/obslake/obslake/writer"
	"github.com/rs/zerolog"
	s3_pq "github.com/xitongsys/parquet-go-source/s3"
	"github.com/xitongsys/parquet-go/reader"
	parquet_writer "github.com/xitongsys/parquet-go/writer"
	"golang.org/x/sync/errgroup"
)

var logger = gologger.NewLogger()

const readConcurrency = 4

type (
	// Result summarizes one MergeRange invocation.
	Result struct {
		WindowsMerged  int
		WindowsSkipped int
		RowsMerged     int64
		BytesWritten   int64
	}
)

// MergeRange walks fixed-width windows across [r.Begin, r.End) and merges
// the partitions fully contained in each. A window whose sources conflict
// with a concurrent merge aborts the walk with catalog.ErrMergeConflict
// so the caller can re-plan.
func MergeRange(ctx context.Context, cat *catalog.Catalog, view partition.ViewKey, r timerange.TimeRange, window time.Duration) (Result, error) {
	jobID := utils.GenKSortedID("mrg_")
	ctx = logger.WithContext(context.WithValue(ctx, gologger.JobIDKey, jobID))
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("jobID", jobID)
	})
	if window <= 0 {
		return Result{}, utils.PermError("merge window width must be positive")
	}

	var res Result
	beginPart := r.Begin
	endPart := beginPart.Add(window)
	for !endPart.After(r.End) {
		merged, err := mergeWindow(ctx, cat, view, timerange.TimeRange{Begin: beginPart, End: endPart}, &res)
		if err != nil {
			return res, fmt.Errorf("error merging window [%s, %s): %w", beginPart, endPart, err)
		}
		if merged {
			res.WindowsMerged++
		} else {
			res.WindowsSkipped++
		}
		beginPart = endPart
		endPart = beginPart.Add(window)
	}
	return res, nil
}

// mergeWindow consolidates the partitions contained in w into one. Fewer
// than two sources is a no-op, not an error.
func mergeWindow(ctx context.Context, cat *catalog.Catalog, view partition.ViewKey, w timerange.TimeRange, res *Result) (bool, error) {
	log := zerolog.Ctx(ctx).With().
		Str("viewSet", view.ViewSetName).
		Str("viewInstance", view.ViewInstanceID).
		Str("window", w.String()).
		Logger()

	// completeness view on purpose: empties participate so the merged
	// partition can span the whole window
	sources, err := cat.ListContained(ctx, view, w)
	if err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, err
	}
	if len(sources) < 2 {
		log.Debug().Int("sources", len(sources)).Msg("not enough partitions to merge")
		metrics.MergeRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}

	schemaHash, mixed := mergedSchemaHash(sources)
	if mixed {
		// a schema migration is in flight for this window; merging
		// incompatible files would poison every read of the result
		log.Warn().Msg("mixed file schema hashes in window, skipping merge")
		metrics.MergeRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}

	stats, err := ComputeStats(sources)
	if errors.Is(err, ErrCoverageGap) {
		log.Warn().Err(err).Msg("window has unmaterialized ranges, skipping merge")
		metrics.MergeRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}
	if err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, err
	}

	merged := &partition.Partition{
		View:            view,
		InsertTimeRange: stats.InsertTimeRange,
		EventTimeRange:  stats.EventTimeRange,
		UpdatedAt:       time.Now().UTC(),
		NumRows:         stats.NumRows,
		SourceDataHash:  CombinedSourceHash(sources),
		FileSchemaHash:  schemaHash,
	}

	if stats.NonEmpty == 0 {
		// all sources empty: the union range was fully processed and
		// holds no data, which is itself worth one coarser record
		log.Info().Int("sources", len(sources)).Msg("merging all-empty partitions into one empty partition")
		if err := commitMerge(ctx, cat, merged, sources); err != nil {
			return false, err
		}
		metrics.MergeRuns.WithLabelValues("empty").Inc()
		return true, nil
	}

	rows, readRows, err := readSourceRows(ctx, sources)
	if err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, utils.RetryableError{Err: fmt.Errorf("error reading source files: %w", err)}
	}
	if readRows != stats.NumRows {
		// the files and the catalog disagree; this is a bug or corruption,
		// never something to paper over
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, fmt.Errorf("read %d rows but catalog says %d: %w", readRows, stats.NumRows, partition.ErrInvariantViolation)
	}

	buf, err := encodeMerged(rows)
	if err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, err
	}
	merged.FileSize = int64(buf.Len())
	merged.FilePath = utils.Ptr(writer.FilePath(view, merged.InsertTimeRange, merged.SourceDataHash))
	if err := merged.Validate(); err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, err
	}

	// merged file is durable before any source row is touched; a crash
	// here leaves the sources intact and queryable
	if _, err := objstore.WriteBytes(ctx, *merged.FilePath, buf, nil); err != nil {
		metrics.MergeRuns.WithLabelValues("error").Inc()
		return false, utils.RetryableError{Err: fmt.Errorf("error uploading merged file: %w", err)}
	}

	if err := commitMerge(ctx, cat, merged, sources); err != nil {
		return false, err
	}

	log.Info().Int("sources", len(sources)).Int64("numRows", merged.NumRows).Int64("fileSize", merged.FileSize).Msg("merged partitions")
	metrics.MergeRuns.WithLabelValues("merged").Inc()
	res.RowsMerged += merged.NumRows
	res.BytesWritten += merged.FileSize
	return true, nil
}

// mergedSchemaHash picks the file schema hash the merged partition should
// carry and reports whether the sources disagree. Empty partitions hold
// the hash of a zero-column schema, which describes no file; they never
// constrain merging and never win the pick unless every source is empty.
func mergedSchemaHash(sources []partition.Partition) ([]byte, bool) {
	var hash []byte
	for i := range sources {
		if sources[i].IsEmpty() {
			continue
		}
		if hash == nil {
			hash = sources[i].FileSchemaHash
			continue
		}
		if !bytes.Equal(sources[i].FileSchemaHash, hash) {
			return nil, true
		}
	}
	if hash == nil {
		return sources[0].FileSchemaHash, false
	}
	return hash, false
}

// commitMerge inserts the merged record and claims the sources in one
// transaction, so no window is ever left with neither sources nor a
// merged result.
func commitMerge(ctx context.Context, cat *catalog.Catalog, merged *partition.Partition, sources []partition.Partition) error {
	err := utils.ReliableExecInTx(ctx, cat.Pool(), time.Second*30, func(ctx context.Context, tx pgx.Tx) error {
		if err := cat.ClaimSources(ctx, tx, sources); err != nil {
			return err
		}
		return cat.InsertPartition(ctx, tx, merged)
	})
	if err != nil {
		if utils.IsConflict(err) {
			metrics.MergeRuns.WithLabelValues("conflict").Inc()
		} else {
			metrics.MergeRuns.WithLabelValues("error").Inc()
		}
		return err
	}
	return nil
}

// readSourceRows fetches the non-empty sources' files and decodes their
// rows, preserving source order.
func readSourceRows(ctx context.Context, sources []partition.Partition) ([][]map[string]any, int64, error) {
	s3Client, err := objstore.NewS3Client()
	if err != nil {
		return nil, 0, err
	}

	perSource := make([][]map[string]any, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := range sources {
		if sources[i].IsEmpty() {
			continue
		}
		i := i
		g.Go(func() error {
			rows, err := readPartitionFile(gctx, s3Client, *sources[i].FilePath)
			if err != nil {
				return fmt.Errorf("error reading %s: %w", *sources[i].FilePath, err)
			}
			perSource[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, rows := range perSource {
		total += int64(len(rows))
	}
	return perSource, total, nil
}

func readPartitionFile(ctx context.Context, s3Client *s3.S3, filePath string) ([]map[string]any, error) {
	r, err := s3_pq.NewS3FileReaderWithParams(ctx, s3_pq.S3FileReaderParams{
		Bucket:   utils.S3_BUCKET_NAME,
		Key:      filePath,
		S3Client: s3Client,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating s3 file reader: %w", err)
	}

	pr, err := reader.NewParquetReader(r, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("error creating parquet reader: %w", err)
	}
	defer pr.ReadStop()

	return decodeRows(pr)
}

// decodeRows reads every row back as a map keyed by the column names the
// file was written with. The reader materializes rows as anonymous
// structs whose field names are parquet-go's mangled in-names; writing
// those back out would silently rename every column.
func decodeRows(pr *reader.ParquetReader) ([]map[string]any, error) {
	exNames := make(map[string]string, len(pr.SchemaHandler.Infos))
	for _, info := range pr.SchemaHandler.Infos {
		exNames[info.InName] = info.ExName
	}

	numRows := int(pr.GetNumRows())
	raw, err := pr.ReadByNumber(numRows)
	if err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		rowMap := make(map[string]any)
		v := reflect.ValueOf(item)
		typeOf := v.Type()
		for i := 0; i < v.NumField(); i++ {
			name := typeOf.Field(i).Name
			if ex, exists := exNames[name]; exists {
				name = ex
			}
			rowMap[name] = v.Field(i).Interface()
		}
		rows = append(rows, rowMap)
	}
	return rows, nil
}

// encodeMerged concatenates the per-source rows into one parquet buffer.
func encodeMerged(perSource [][]map[string]any) (*bytes.Buffer, error) {
	accumulator := parquetschema.NewAccumulator()
	for _, rows := range perSource {
		for _, row := range rows {
			accumulator.WriteRow(row)
		}
	}

	schemaString, err := accumulator.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}
	var b bytes.Buffer
	pw, err := parquet_writer.NewJSONWriterFromWriter(schemaString, &b, 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	for _, rows := range perSource {
		for _, row := range rows {
			rowBytes, err := json.Marshal(row)
			if err != nil {
				return nil, fmt.Errorf("error in json.Marshal of row: %w", err)
			}
			if err := pw.Write(rowBytes); err != nil {
				return nil, fmt.Errorf("error in pw.Write: %w", err)
			}
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return &b, nil
}
