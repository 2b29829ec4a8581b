package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BookChunk struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BookID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"book_id"`
	Index     int            `gorm:"column:chunk_index;not null" json:"index"`
	PageStart int            `gorm:"not null" json:"page_start"`
	PageEnd   int            `gorm:"not null" json:"page_end"`
	Text      string         `gorm:"not null" json:"text"`
	Preview   string         `gorm:"not null" json:"preview"`
	TextHash  string         `gorm:"not null;index" json:"text_hash"`
	Embedding datatypes.JSON `gorm:"type:jsonb" json:"embedding"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (BookChunk) TableName() string {
	return "book_chunk"
}
