package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CursorParams is a keyset page request: messages strictly older than BeforeID.
type CursorParams struct {
	BeforeID int64
	Limit    int
}

// GetCursorParams extracts before_id/limit, clamping limit to 1..MaxPageSize.
func GetCursorParams(c echo.Context) CursorParams {
	beforeID, _ := strconv.ParseInt(c.QueryParam("before_id"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	if beforeID < 0 {
		beforeID = 0
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	return CursorParams{
		BeforeID: beforeID,
		Limit:    limit,
	}
}
