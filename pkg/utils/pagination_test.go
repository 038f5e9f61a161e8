package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationWindow(t *testing.T) {
	tests := []struct {
		name              string
		in                Pagination
		pageSize, maxSize int
		wantOffset        int
		wantLimit         int
		wantPage          int
	}{
		{"zero values use package defaults", Pagination{}, 0, 0, 0, DefaultPageSize, 1},
		{"limit capped at package max", Pagination{Page: 1, Limit: 500}, 0, 0, 0, MaxPageSize, 1},
		{"configured default", Pagination{Page: 2}, 15, 50, 15, 15, 2},
		{"configured max", Pagination{Page: 3, Limit: 80}, 15, 50, 100, 50, 3},
		{"default above max clamped", Pagination{}, 80, 40, 0, 40, 1},
		{"negative page", Pagination{Page: -4, Limit: 10}, 20, 50, 0, 10, 1},
		{"explicit values kept", Pagination{Page: 3, Limit: 20}, 10, 100, 40, 20, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			offset, limit := p.Window(tt.pageSize, tt.maxSize)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLimit, p.Limit)

			res := p.Result([]string{"a"}, 7)
			assert.Equal(t, int64(7), res.Total)
			assert.Equal(t, tt.wantPage, res.Page)
			assert.Equal(t, tt.wantLimit, res.Limit)
		})
	}
}
