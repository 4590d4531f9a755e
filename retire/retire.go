package retire

import (
	"context"
	"fmt"
	"time"

	"github.com/obslake/obslake/catalog"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/metrics"
	"github.com/obslake/obslake/objstore"
	"github.com/obslake/obslake/utils"
	"github.com/rs/zerolog"
)

var logger = gologger.NewLogger()

const sweepBatchSize = 256

type (
	// Result summarizes one retirement pass.
	Result struct {
		PartitionsRetired int64
		FilesDeleted      int64
	}
)

// RetireExpired removes partitions whose insert range ended before the
// retention horizon, then sweeps any deletable files. Partition rows go
// first and files later: a crash in between leaves orphaned files, which
// are harmless and picked up by the next sweep, never dangling catalog
// references.
func RetireExpired(ctx context.Context, cat *catalog.Catalog, olderThan time.Time) (Result, error) {
	jobID := utils.GenKSortedID("ret_")
	ctx = logger.WithContext(context.WithValue(ctx, gologger.JobIDKey, jobID))
	log := zerolog.Ctx(ctx)
	log.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("jobID", jobID)
	})

	var res Result
	retired, err := cat.RetireExpired(ctx, olderThan)
	if err != nil {
		return res, fmt.Errorf("error retiring expired partitions: %w", err)
	}
	res.PartitionsRetired = retired
	if retired > 0 {
		log.Info().Int64("partitions", retired).Time("olderThan", olderThan).Msg("retired expired partitions")
		metrics.PartitionsRetired.Add(float64(retired))
	}

	deleted, err := SweepTemporaryFiles(ctx, cat, time.Now().UTC())
	if err != nil {
		return res, err
	}
	res.FilesDeleted = deleted
	return res, nil
}

// SweepTemporaryFiles deletes queued files whose linger period has
// passed. The catalog row is removed before the blob, so re-running after
// a crash only ever re-deletes an already-gone object, which object
// storage treats as success.
func SweepTemporaryFiles(ctx context.Context, cat *catalog.Catalog, now time.Time) (int64, error) {
	// keeps the caller's job-scoped logger when run inside RetireExpired
	log := zerolog.Ctx(ctx)

	var deleted int64
	for {
		files, err := cat.ListExpiredTemporaryFiles(ctx, now, sweepBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("error listing deletable files: %w", err)
		}
		if len(files) == 0 {
			return deleted, nil
		}
		for _, tf := range files {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			if err := cat.DeleteTemporaryFile(ctx, tf.FilePath); err != nil {
				return deleted, err
			}
			if err := objstore.DeleteFile(ctx, tf.FilePath); err != nil {
				// the row is gone, so this file is now an orphan; it will
				// not be retried, which is the accepted trade-off of the
				// row-then-file ordering
				log.Warn().Err(err).Str("filePath", tf.FilePath).Msg("failed deleting detached file, leaving orphan")
				continue
			}
			deleted++
			metrics.FilesSwept.Inc()
		}
		if int64(len(files)) < sweepBatchSize {
			return deleted, nil
		}
	}
}
