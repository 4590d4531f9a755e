package http_server

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/obslake/obslake/partcache"
	"github.com/obslake/obslake/partition"
	"github.com/obslake/obslake/scanplan"
	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

type (
	ListPartitionsReqBody struct {
		ViewSetName    string    `query:"view_set" validate:"required"`
		ViewInstanceID string    `query:"view_instance" validate:"required"`
		Begin          time.Time `query:"begin" validate:"required"`
		End            time.Time `query:"end" validate:"required"`
	}

	PartitionInfo struct {
		BeginInsertTime time.Time
		EndInsertTime   time.Time
		MinEventTime    *time.Time
		MaxEventTime    *time.Time
		FilePath        *string
		FileSize        int64
		NumRows         int64
		SourceDataHash  string
		FileSchemaHash  string
		UpdatedAt       time.Time
	}

	ListPartitionsRes struct {
		Partitions []PartitionInfo
	}

	ScanPlanReqBody struct {
		ListPartitionsReqBody
		// Hex-encoded schema hash. When set the plan only spans files that
		// all carry this schema.
		FileSchemaHash string `query:"schema_hash"`
		// Expected output columns, in matching order. The plan echoes them
		// back so an all-empty window still yields a typed zero-row result.
		ColumnNames []string `query:"column"`
		ColumnTypes []string `query:"column_type"`
	}
)

func partitionInfo(p partition.Partition) PartitionInfo {
	info := PartitionInfo{
		BeginInsertTime: p.InsertTimeRange.Begin,
		EndInsertTime:   p.InsertTimeRange.End,
		FilePath:        p.FilePath,
		FileSize:        p.FileSize,
		NumRows:         p.NumRows,
		SourceDataHash:  hex.EncodeToString(p.SourceDataHash),
		FileSchemaHash:  hex.EncodeToString(p.FileSchemaHash),
		UpdatedAt:       p.UpdatedAt,
	}
	if p.EventTimeRange != nil {
		info.MinEventTime = &p.EventTimeRange.Begin
		info.MaxEventTime = &p.EventTimeRange.End
	}
	return info
}

// ListPartitionsHandler returns every partition record overlapping the
// insert-time range, explicit empties included.
func (s *HTTPServer) ListPartitionsHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()

	var reqBody ListPartitionsReqBody
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
	cache := partcache.New(s.Catalog, view)
	parts, err := cache.FetchAllForRange(ctx, r)
	if err != nil {
		return c.InternalError(err, "error listing partitions")
	}

	var res ListPartitionsRes
	for _, p := range parts {
		res.Partitions = append(res.Partitions, partitionInfo(p))
	}
	res.Partitions = utils.ArrayOrEmpty(res.Partitions)

	return c.JSON(http.StatusOK, res)
}

// ScanPlanHandler builds the list of parquet files a query engine needs
// to read for an event-time window. Empty partitions never contribute a
// scan unit, so an all-empty window yields a valid zero-file plan.
func (s *HTTPServer) ScanPlanHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()

	var reqBody ScanPlanReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	r, err := timerange.New(reqBody.Begin, reqBody.End)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	var schemaHash []byte
	if reqBody.FileSchemaHash != "" {
		schemaHash, err = hex.DecodeString(reqBody.FileSchemaHash)
		if err != nil {
			return c.String(http.StatusBadRequest, "schema_hash was not hex")
		}
	}
	if len(reqBody.ColumnTypes) > 0 && len(reqBody.ColumnTypes) != len(reqBody.ColumnNames) {
		return c.String(http.StatusBadRequest, "column and column_type counts disagree")
	}

	view := partition.ViewKey{
		ViewSetName:    reqBody.ViewSetName,
		ViewInstanceID: reqBody.ViewInstanceID,
	}
	cache := partcache.New(s.Catalog, view)
	parts, err := cache.FetchOverlappingForScan(ctx, r, schemaHash)
	if err != nil {
		return c.InternalError(err, "error fetching partitions for scan")
	}

	plan, err := scanplan.Build(parts, reqBody.ColumnNames, reqBody.ColumnTypes)
	if err != nil {
		return c.InternalError(err, "error building scan plan")
	}
	plan.Units = utils.ArrayOrEmpty(plan.Units)

	return c.JSON(http.StatusOK, plan)
}
