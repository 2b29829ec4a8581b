package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Book lifecycle statuses.
const (
	BookStatusDraft      = "draft"
	BookStatusProcessing = "processing"
	BookStatusReady      = "ready"
	BookStatusError      = "error"
)

type Book struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Authors     datatypes.JSON `gorm:"type:jsonb" json:"authors"`
	Language    string         `json:"language"`
	Year        int            `json:"year"`
	Tags        datatypes.JSON `gorm:"type:jsonb" json:"tags"`
	Status      string         `gorm:"not null;default:draft;index" json:"status"`
	Active      bool           `gorm:"not null;default:false" json:"active"`
	ChunksCount int            `gorm:"not null;default:0" json:"chunks_count"`
	PageCount   int            `gorm:"not null;default:0" json:"page_count"`
	LastJobID   *uuid.UUID     `gorm:"type:uuid" json:"last_job_id,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Book) TableName() string {
	return "book"
}
