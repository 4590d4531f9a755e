package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/obslake/obslake/retire"
	"github.com/obslake/obslake/utils"
)

type (
	RetireReqBody struct {
		// Partitions whose insert range ends before this instant are
		// retired. When zero, PARTITION_RETENTION_SEC decides (and a zero
		// retention means retirement is disabled).
		OlderThan time.Time
	}

	RetireStats struct {
		PartitionsRetired int64
		FilesDeleted      int64
		TimeMS            int64
	}
)

func (s *HTTPServer) RetireHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Minute*5)
	defer cancel()

	var reqBody RetireReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	olderThan := reqBody.OlderThan
	if olderThan.IsZero() {
		if utils.PARTITION_RETENTION_SEC <= 0 {
			return c.String(http.StatusBadRequest, "no OlderThan given and PARTITION_RETENTION_SEC is not set")
		}
		olderThan = time.Now().Add(-time.Duration(utils.PARTITION_RETENTION_SEC) * time.Second)
	}

	start := time.Now()
	res, err := retire.RetireExpired(ctx, s.Catalog, olderThan)
	if err != nil {
		return c.InternalError(err, "error retiring partitions")
	}

	stats := RetireStats{
		PartitionsRetired: res.PartitionsRetired,
		FilesDeleted:      res.FilesDeleted,
		TimeMS:            time.Since(start).Milliseconds(),
	}

	return c.JSON(http.StatusOK, stats)
}
