package utils

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination 列表查询参数，page 从 1 开始
type Pagination struct {
	Page  int `json:"page" form:"page"`
	Limit int `json:"limit" form:"limit"`
}

// PageResult 分页响应
type PageResult struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Window 按给定默认值与上限修正 page/limit，返回 offset 与 limit
// pageSize 或 maxSize 非正时取包级默认值
func (p *Pagination) Window(pageSize, maxSize int) (offset, limit int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = pageSize
	case p.Limit > maxSize:
		p.Limit = maxSize
	}
	return (p.Page - 1) * p.Limit, p.Limit
}

// Result 以修正后的 page/limit 包装结果
func (p Pagination) Result(list interface{}, total int64) *PageResult {
	return &PageResult{List: list, Total: total, Page: p.Page, Limit: p.Limit}
}
