package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel 订单等记录共用的主键与时间戳，ID 由调用方指定或在写入前生成
type BaseModel struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// NewID 生成带前缀的随机 ID，如 auth_xxx
func NewID(prefix string) string {
	return prefix + uuid.New().String()
}

func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = NewID("")
	}
	return nil
}
