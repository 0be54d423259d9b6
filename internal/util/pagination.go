package util

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Calculate turns 1-based page/size query values into offset and limit.
func Calculate(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	return (page - 1) * size, size
}
