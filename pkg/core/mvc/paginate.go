package mvc

import (
	"gorm.io/gorm"
)

type Page struct {
	PageNum int    `json:"pageNum" query:"pageNum"`
	Size    int    `json:"size" query:"size"`
	Sort    string `json:"sort" query:"sort"`
}

func (p *Page) normalize() (int, int) {
	pageNum := p.PageNum
	size := p.Size

	if pageNum <= 0 {
		pageNum = 1
	}
	if size <= 0 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return pageNum, size
}

func Paginate(page *Page) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		pageNum, size := page.normalize()
		return db.Offset((pageNum - 1) * size).Limit(size)
	}
}
