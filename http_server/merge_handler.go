package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/obslake/obslake/merge"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

type (
	MergeReqBody struct {
		ViewSetName    string    `validate:"required"`
		ViewInstanceID string    `validate:"required"`
		Begin          time.Time `validate:"required"`
		End            time.Time `validate:"required"`
		// Fixed window width in seconds, e.g. 3600 to compact hours into
		// hours and 86400 to roll hours up into days.
		WindowSeconds int64 `validate:"required,gt=0"`
	}

	MergeStats struct {
		WindowsMerged  int
		WindowsSkipped int
		RowsMerged     int64
		BytesWritten   int64
		TimeMS         int64
	}
)

func (s *HTTPServer) MergeHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Minute*5)
	defer cancel()

	var reqBody MergeReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	r, err := timerange.New(reqBody.Begin, reqBody.End)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	view := partition.ViewKey{
		ViewSetName:    reqBody.ViewSetName,
		ViewInstanceID: reqBody.ViewInstanceID,
	}

	start := time.Now()
	res, err := merge.MergeRange(ctx, s.Catalog, view, r, time.Duration(reqBody.WindowSeconds)*time.Second)
	if err != nil {
		if utils.IsConflict(err) {
			// another merger claimed the sources first, the caller should
			// re-plan against fresh metadata
			return c.String(http.StatusConflict, err.Error())
		}
		return c.InternalError(err, "error merging partitions")
	}

	stats := MergeStats{
		WindowsMerged:  res.WindowsMerged,
		WindowsSkipped: res.WindowsSkipped,
		RowsMerged:     res.RowsMerged,
		BytesWritten:   res.BytesWritten,
		TimeMS:         time.Since(start).Milliseconds(),
	}

	return c.JSON(http.StatusOK, stats)
}
