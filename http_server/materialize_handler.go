package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
	"github.com/obslake/obslake/writer"
	"github.com/rs/zerolog"
)

type (
	MaterializeReqBody struct {
		ViewSetName    string `validate:"required"`
		ViewInstanceID string `validate:"required"`

		// Insertion-time window that was scanned to produce these rows,
		// RFC3339. Required even when Rows is empty: an empty window
		// still gets a partition record.
		BeginInsertTime time.Time `validate:"required"`
		EndInsertTime   time.Time `validate:"required"`

		// Column holding each row's event time, either RFC3339 string or
		// unix milliseconds number. Default "time".
		EventTimeColumn *string

		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []*map[string]any
	}

	MaterializeStats struct {
		NumRows      int64
		Empty        bool
		FilePath     *string
		BytesWritten int64
		TimeMS       int64
	}
)

var (
	ErrNotFlatMap       = errors.New("not a flat map")
	ErrMissingEventTime = errors.New("row is missing the event time column")
	ErrBadEventTime     = errors.New("event time column is neither an RFC3339 string nor unix milliseconds")
)

// parseEventTime extracts a row's event timestamp from the named column.
func parseEventTime(row map[string]any, col string) (time.Time, error) {
	value, exists := row[col]
	if !exists {
		return time.Time{}, ErrMissingEventTime
	}
	if valString, isStr := value.(string); isStr {
		t, err := time.Parse(time.RFC3339Nano, valString)
		if err != nil {
			return time.Time{}, fmt.Errorf("error in time.Parse: %s: %w", err.Error(), ErrBadEventTime)
		}
		return t, nil
	}
	if valFloat, isFloat := value.(float64); isFloat {
		return time.UnixMilli(int64(valFloat)).UTC(), nil
	}
	return time.Time{}, ErrBadEventTime
}

func (s *HTTPServer) MaterializeHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	var reqBody MaterializeReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	insertRange, err := timerange.New(reqBody.BeginInsertTime, reqBody.EndInsertTime)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	eventTimeCol := utils.Deref(reqBody.EventTimeColumn, "time")

	batchID := utils.GenRandomID("bat_")
	zerolog.Ctx(ctx).UpdateContext(func(zc zerolog.Context) zerolog.Context {
		return zc.Str("batchID", batchID)
	})

	defer c.Request().Body.Close()

	start := time.Now()

	var rawRows []map[string]any
	if reqBody.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*reqBody.RowsString))
		for ndJSONScanner.Scan() {
			var raw any
			err := json.Unmarshal([]byte(ndJSONScanner.Text()), &raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "line was not JSON")
			}
			jsonMap, ok := raw.(map[string]any)
			if !ok {
				return c.String(http.StatusBadRequest, "line was not a JSON object")
			}
			rawRows = append(rawRows, jsonMap)
		}
	} else {
		for _, row := range reqBody.Rows {
			rawRows = append(rawRows, *row)
		}
	}

	// flatten, derive event-time bounds, and hash content in arrival order
	rs := writer.RowSet{}
	var contentHash []byte
	for _, raw := range rawRows {
		flat, err := gojsonutils.Flatten(raw, nil)
		if err != nil {
			return c.InternalError(err, "error flattening JSON map")
		}
		flatMap, ok := flat.(map[string]any)
		if !ok {
			return c.InternalError(ErrNotFlatMap, fmt.Sprintf("got a non flat map: %+v", flat))
		}

		eventTime, err := parseEventTime(flatMap, eventTimeCol)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if rs.MinEventTime.IsZero() || eventTime.Before(rs.MinEventTime) {
			rs.MinEventTime = eventTime
		}
		if rs.MaxEventTime.IsZero() || eventTime.After(rs.MaxEventTime) {
			rs.MaxEventTime = eventTime
		}

		rowBytes, err := json.Marshal(flatMap)
		if err != nil {
			return c.InternalError(err, "error in json.Marshal of flat row")
		}
		contentHash = append(contentHash, utils.HashBytes(rowBytes)...)
		rs.Rows = append(rs.Rows, flatMap)
	}

	req := writer.Request{
		View: partition.ViewKey{
			ViewSetName:    reqBody.ViewSetName,
			ViewInstanceID: reqBody.ViewInstanceID,
		},
		InsertTimeRange: insertRange,
		SourceDataHash:  utils.HashBytes(append([]byte(insertRange.String()), contentHash...)),
	}

	rowSets := make(chan writer.RowSet, 1)
	if len(rs.Rows) > 0 {
		rowSets <- rs
	}
	close(rowSets)

	p, err := writer.WritePartitionFromRows(ctx, s.Catalog, req, rowSets)
	if err != nil {
		return c.InternalError(err, "error writing partition")
	}

	stats := MaterializeStats{
		NumRows:      p.NumRows,
		Empty:        p.IsEmpty(),
		FilePath:     p.FilePath,
		BytesWritten: p.FileSize,
		TimeMS:       time.Since(start).Milliseconds(),
	}

	return c.JSON(http.StatusAccepted, stats)
}
