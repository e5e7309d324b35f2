// internal/utils/pagination.go
package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaginationParams is a 1-based page window.
type PaginationParams struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

// GetPaginationParams reads ?page and ?limit, falling back to the first page
// of DefaultPageSize for anything missing or out of range.
func GetPaginationParams(c *gin.Context) PaginationParams {
	var p PaginationParams
	_ = c.ShouldBindQuery(&p)
	return p.normalized()
}

func (p PaginationParams) normalized() PaginationParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > MaxPageSize {
		p.Limit = DefaultPageSize
	}
	return p
}

func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Bounds returns the [start, end) window of a list of n items for params.
func (p PaginationParams) Bounds(n int) (int, int) {
	start := min(p.Offset(), n)
	return start, min(start+p.Limit, n)
}

func ApplyPagination(db *gorm.DB, params PaginationParams) *gorm.DB {
	params = params.normalized()
	return db.Offset(params.Offset()).Limit(params.Limit)
}

func CreatePaginationResult(data interface{}, total int64, params PaginationParams) PaginationResult {
	params = params.normalized()
	limit := int64(params.Limit)
	return PaginationResult{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: int((total + limit - 1) / limit),
		Data:       data,
	}
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	h := c.Writer.Header()
	h.Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	h.Set("X-Page", strconv.Itoa(result.Page))
	h.Set("X-Per-Page", strconv.Itoa(result.Limit))
	h.Set("X-Total-Pages", strconv.Itoa(result.TotalPages))
}
