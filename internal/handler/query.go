package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pricecontest/internal/contest"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

// periodQuery reads ?period=YYYY-MM-DD, falling back to current when absent.
func periodQuery(c *gin.Context, current contest.Period) (contest.Period, error) {
	raw := strings.TrimSpace(c.Query("period"))
	if raw == "" {
		return current, nil
	}
	return contest.ParsePeriod(raw)
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

func boolPtr(v bool) *bool { return &v }
