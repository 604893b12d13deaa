package utils

import (
	"net/http"
	"net/url"
	"strconv"
)

// Page size constraints for meal listings.
const (
	// DefaultPageSize is the page size used when none is requested.
	DefaultPageSize = 20

	// MaxPageSize caps a single request to the API.
	MaxPageSize = 100

	MinPageSize = 1
)

// PageParams describes one page of a limit/offset listing.
type PageParams struct {
	Page     int // 1-based page number
	PageSize int
	Offset   int // 0-based offset sent to the API
	Limit    int
}

// PageMeta describes where a page sits in the listing. The API does not
// report totals, so HasNext is inferred from a full page.
type PageMeta struct {
	Page         int  `json:"page"`
	PageSize     int  `json:"page_size"`
	HasPrevious  bool `json:"has_previous"`
	HasNext      bool `json:"has_next"`
	PreviousPage *int `json:"previous_page,omitempty"`
	NextPage     *int `json:"next_page,omitempty"`
}

// PaginatedResponse wraps a page of data with its metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination PageMeta    `json:"pagination"`
}

// NewPageParams clamps page and pageSize into range and computes the
// offset.
//
// Example:
//
//	p := utils.NewPageParams(3, 20)
//	// p.Offset == 40, p.Limit == 20
func NewPageParams(page, pageSize int) PageParams {
	if page < 1 {
		page = 1
	}
	if pageSize < MinPageSize {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return PageParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize,
	}
}

// ParsePageParams reads ?page= and ?page_size= from a dashboard request.
// Missing or invalid values fall back to defaults.
func ParsePageParams(r *http.Request) PageParams {
	return NewPageParams(
		parseIntParam(r, "page", 1),
		parseIntParam(r, "page_size", DefaultPageSize),
	)
}

// Query returns the limit/offset query understood by GET /meals/all.
func (p PageParams) Query() url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	return q
}

// Meta builds page metadata given how many items the API returned.
func (p PageParams) Meta(returned int) PageMeta {
	meta := PageMeta{
		Page:        p.Page,
		PageSize:    p.PageSize,
		HasPrevious: p.Page > 1,
		HasNext:     returned >= p.Limit,
	}
	if meta.HasPrevious {
		prev := p.Page - 1
		meta.PreviousPage = &prev
	}
	if meta.HasNext {
		next := p.Page + 1
		meta.NextPage = &next
	}
	return meta
}

// NewPaginatedResponse wraps data returned for params.
func NewPaginatedResponse(data interface{}, params PageParams, returned int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Pagination: params.Meta(returned),
	}
}

func parseIntParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
