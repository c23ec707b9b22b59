package models

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// NormalizeListParams clamps caller-supplied paging values.
func NormalizeListParams(limit int, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
