package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

var (
	logger = gologger.NewLogger()

	// ErrMergeConflict means another merge (or re-materialization) claimed
	// one of the source partitions first. The caller should re-plan which
	// partitions to merge, not blind-retry the same claim.
	ErrMergeConflict = utils.ConflictError("source partitions were claimed by a concurrent merge")

	// ErrDuplicatePartition means a row for the same view, insert range,
	// and source hash already exists. For an idempotent retry this is
	// success: the prior attempt already committed.
	ErrDuplicatePartition = utils.ConflictError("partition already recorded for this range and source hash")
)

type (
	// Catalog is the single source of truth for partition metadata,
	// backed by the lakehouse_partitions table.
	Catalog struct {
		pool *pgxpool.Pool
	}

	// TempFile is a detached partition file waiting for deletion from
	// object storage.
	TempFile struct {
		FilePath   string
		FileSize   int64
		Expiration time.Time
	}
)

func New(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const partitionColumns = `view_set_name,
	view_instance_id,
	begin_insert_time,
	end_insert_time,
	min_event_time,
	max_event_time,
	updated,
	file_path,
	file_size,
	num_rows,
	source_data_hash,
	file_schema_hash`

func scanPartition(rows pgx.Rows) (partition.Partition, error) {
	var (
		p       partition.Partition
		minTime pgtype.Timestamptz
		maxTime pgtype.Timestamptz
		path    pgtype.Text
	)
	err := rows.Scan(
		&p.View.ViewSetName,
		&p.View.ViewInstanceID,
		&p.InsertTimeRange.Begin,
		&p.InsertTimeRange.End,
		&minTime,
		&maxTime,
		&p.UpdatedAt,
		&path,
		&p.FileSize,
		&p.NumRows,
		&p.SourceDataHash,
		&p.FileSchemaHash,
	)
	if err != nil {
		return p, fmt.Errorf("error in rows.Scan: %w", err)
	}
	// min/max event time are null together or present together; the
	// optional composite makes the half-set states unrepresentable
	if minTime.Status == pgtype.Present && maxTime.Status == pgtype.Present {
		evt, err := timerange.New(minTime.Time, maxTime.Time)
		if err != nil {
			return p, fmt.Errorf("error in timerange.New for stored event range: %w", err)
		}
		p.EventTimeRange = &evt
	}
	if path.Status == pgtype.Present {
		p.FilePath = utils.Ptr(path.String)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("stored partition fails validation: %w", err)
	}
	return p, nil
}

func collectPartitions(rows pgx.Rows) ([]partition.Partition, error) {
	defer rows.Close()
	var out []partition.Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partition rows: %w", err)
	}
	return out, nil
}

// ListOverlapping returns every partition of the view, empty ones
// included, whose insert range overlaps r. Empty-partition filtering for
// scans happens after the fetch, in the cache.
func (c *Catalog) ListOverlapping(ctx context.Context, view partition.ViewKey, r timerange.TimeRange) ([]partition.Partition, error) {
	var out []partition.Partition
	err := utils.ReliableExec(ctx, c.pool, time.Second*15, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+partitionColumns+`
			FROM lakehouse_partitions
			WHERE view_set_name = $1
			AND view_instance_id = $2
			AND begin_insert_time < $3
			AND end_insert_time > $4
			ORDER BY begin_insert_time`,
			view.ViewSetName, view.ViewInstanceID, r.End, r.Begin)
		if err != nil {
			return fmt.Errorf("error in conn.Query: %w", err)
		}
		out, err = collectPartitions(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error listing overlapping partitions: %w", err)
	}
	return out, nil
}

// ListContained returns partitions whose insert range fits completely
// inside r. Merge uses this: it consumes whole source partitions, never
// fragments of them.
func (c *Catalog) ListContained(ctx context.Context, view partition.ViewKey, r timerange.TimeRange) ([]partition.Partition, error) {
	var out []partition.Partition
	err := utils.ReliableExec(ctx, c.pool, time.Second*15, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+partitionColumns+`
			FROM lakehouse_partitions
			WHERE view_set_name = $1
			AND view_instance_id = $2
			AND begin_insert_time >= $3
			AND end_insert_time <= $4
			ORDER BY begin_insert_time`,
			view.ViewSetName, view.ViewInstanceID, r.Begin, r.End)
		if err != nil {
			return fmt.Errorf("error in conn.Query: %w", err)
		}
		out, err = collectPartitions(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error listing contained partitions: %w", err)
	}
	return out, nil
}

// InsertPartition writes one partition row inside tx. The caller owns the
// write-file-then-insert-metadata ordering.
func (c *Catalog) InsertPartition(ctx context.Context, tx pgx.Tx, p *partition.Partition) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to insert invalid partition: %w", err)
	}
	var minTime, maxTime *time.Time
	if p.EventTimeRange != nil {
		minTime = &p.EventTimeRange.Begin
		maxTime = &p.EventTimeRange.End
	}
	_, err := tx.Exec(ctx, `INSERT INTO lakehouse_partitions (`+partitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.View.ViewSetName,
		p.View.ViewInstanceID,
		p.InsertTimeRange.Begin,
		p.InsertTimeRange.End,
		minTime,
		maxTime,
		p.UpdatedAt,
		p.FilePath,
		p.FileSize,
		p.NumRows,
		p.SourceDataHash,
		p.FileSchemaHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePartition
		}
		return fmt.Errorf("error inserting into lakehouse_partitions: %w", err)
	}
	return nil
}

// InsertPartitionSuperseding inserts p and, in the same transaction,
// retires any existing partitions for the same view whose insert range is
// contained in p's. A retried write with the same deterministic file path
// does not queue its own file for deletion.
func (c *Catalog) InsertPartitionSuperseding(ctx context.Context, p *partition.Partition) error {
	return utils.ReliableExecInTx(ctx, c.pool, time.Second*15, func(ctx context.Context, tx pgx.Tx) error {
		err := c.retireContained(ctx, tx, p.View, p.InsertTimeRange, p.FilePath)
		if err != nil {
			return fmt.Errorf("error retiring superseded partitions: %w", err)
		}
		return c.InsertPartition(ctx, tx, p)
	})
}

// retireContained queues the files of contained partitions for deletion
// and removes their catalog rows. keepPath (if set) is spared from the
// deletion queue.
func (c *Catalog) retireContained(ctx context.Context, tx pgx.Tx, view partition.ViewKey, r timerange.TimeRange, keepPath *string) error {
	expiration := time.Now().UTC().Add(time.Duration(utils.TEMP_FILE_LINGER_SEC) * time.Second)
	_, err := tx.Exec(ctx, `INSERT INTO temporary_files (file_path, file_size, expiration)
		SELECT file_path, file_size, $6
		FROM lakehouse_partitions
		WHERE view_set_name = $1
		AND view_instance_id = $2
		AND begin_insert_time >= $3
		AND end_insert_time <= $4
		AND file_path IS NOT NULL
		AND file_path IS DISTINCT FROM $5
		ON CONFLICT (file_path) DO NOTHING`,
		view.ViewSetName, view.ViewInstanceID, r.Begin, r.End, keepPath, expiration)
	if err != nil {
		return fmt.Errorf("error queueing superseded files: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM lakehouse_partitions
		WHERE view_set_name = $1
		AND view_instance_id = $2
		AND begin_insert_time >= $3
		AND end_insert_time <= $4`,
		view.ViewSetName, view.ViewInstanceID, r.Begin, r.End)
	if err != nil {
		return fmt.Errorf("error deleting superseded partitions: %w", err)
	}
	return nil
}

// ClaimSources deletes the given source partitions inside tx, guarding on
// their updated timestamps. If any source changed or disappeared since it
// was read, the whole claim fails with ErrMergeConflict so the merge can
// be re-planned.
func (c *Catalog) ClaimSources(ctx context.Context, tx pgx.Tx, sources []partition.Partition) error {
	expiration := time.Now().UTC().Add(time.Duration(utils.TEMP_FILE_LINGER_SEC) * time.Second)
	for i := range sources {
		src := &sources[i]
		if src.FilePath != nil {
			_, err := tx.Exec(ctx, `INSERT INTO temporary_files (file_path, file_size, expiration)
				VALUES ($1, $2, $3)
				ON CONFLICT (file_path) DO NOTHING`,
				*src.FilePath, src.FileSize, expiration)
			if err != nil {
				return fmt.Errorf("error queueing source file: %w", err)
			}
		}
		ct, err := tx.Exec(ctx, `DELETE FROM lakehouse_partitions
			WHERE view_set_name = $1
			AND view_instance_id = $2
			AND begin_insert_time = $3
			AND end_insert_time = $4
			AND source_data_hash = $5
			AND updated = $6`,
			src.View.ViewSetName,
			src.View.ViewInstanceID,
			src.InsertTimeRange.Begin,
			src.InsertTimeRange.End,
			src.SourceDataHash,
			src.UpdatedAt)
		if err != nil {
			return fmt.Errorf("error deleting source partition: %w", err)
		}
		if ct.RowsAffected() == 0 {
			logger.Warn().Str("viewSet", src.View.ViewSetName).Str("viewInstance", src.View.ViewInstanceID).Str("insertRange", src.InsertTimeRange.String()).Msg("merge source already claimed")
			return ErrMergeConflict
		}
	}
	return nil
}

// RetireExpired removes every partition whose insert range ended before
// expiration, queueing backing files for deferred deletion. Returns the
// number of retired partitions.
func (c *Catalog) RetireExpired(ctx context.Context, expiration time.Time) (int64, error) {
	var retired int64
	err := utils.ReliableExecInTx(ctx, c.pool, time.Second*30, func(ctx context.Context, tx pgx.Tx) error {
		tempExpiration := time.Now().UTC().Add(time.Duration(utils.TEMP_FILE_LINGER_SEC) * time.Second)
		_, err := tx.Exec(ctx, `INSERT INTO temporary_files (file_path, file_size, expiration)
			SELECT file_path, file_size, $2
			FROM lakehouse_partitions
			WHERE end_insert_time < $1
			AND file_path IS NOT NULL
			ON CONFLICT (file_path) DO NOTHING`,
			expiration, tempExpiration)
		if err != nil {
			return fmt.Errorf("error queueing expired files: %w", err)
		}
		ct, err := tx.Exec(ctx, `DELETE FROM lakehouse_partitions
			WHERE end_insert_time < $1`, expiration)
		if err != nil {
			return fmt.Errorf("error deleting expired partitions: %w", err)
		}
		retired = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error retiring expired partitions: %w", err)
	}
	return retired, nil
}

// ListExpiredTemporaryFiles returns queued files whose linger period has
// passed, oldest first.
func (c *Catalog) ListExpiredTemporaryFiles(ctx context.Context, now time.Time, limit int64) ([]TempFile, error) {
	var out []TempFile
	err := utils.ReliableExec(ctx, c.pool, time.Second*15, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT file_path, file_size, expiration
			FROM temporary_files
			WHERE expiration < $1
			ORDER BY expiration
			LIMIT $2`, now, limit)
		if err != nil {
			return fmt.Errorf("error in conn.Query: %w", err)
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var tf TempFile
			if err := rows.Scan(&tf.FilePath, &tf.FileSize, &tf.Expiration); err != nil {
				return fmt.Errorf("error in rows.Scan: %w", err)
			}
			out = append(out, tf)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing expired temporary files: %w", err)
	}
	return out, nil
}

// DeleteTemporaryFile removes the catalog row for a queued file. The
// sweeper calls this before deleting the blob, so a crash between the two
// steps only ever leaves an orphaned file, never a dangling reference.
func (c *Catalog) DeleteTemporaryFile(ctx context.Context, filePath string) error {
	err := utils.ReliableExec(ctx, c.pool, time.Second*10, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM temporary_files WHERE file_path = $1`, filePath)
		return err
	})
	if err != nil {
		return fmt.Errorf("error deleting temporary file row: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for components that manage their own
// transactions, like the merge engine.
func (c *Catalog) Pool() *pgxpool.Pool {
	return c.pool
}
