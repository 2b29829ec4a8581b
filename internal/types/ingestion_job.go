package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IngestionJob statuses.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// IngestionJob steps, in pipeline order.
const (
	JobStepDownload = "download"
	JobStepExtract  = "extract"
	JobStepChunk    = "chunk"
	JobStepEmbed    = "embed"
	JobStepSave     = "save"
)

type IngestionJob struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	BookID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"book_id"`
	Status        string         `gorm:"not null;default:queued" json:"status"`
	Step          string         `gorm:"not null;default:download" json:"step"`
	ProgressDone  int            `gorm:"not null;default:0" json:"progress_done"`
	ProgressTotal int            `gorm:"not null;default:0" json:"progress_total"`
	Logs          datatypes.JSON `gorm:"type:jsonb" json:"logs"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `gorm:"not null;default:now()" json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

func (IngestionJob) TableName() string {
	return "ingestion_job"
}

// Percent derives a 0-100 progress value for the status surface.
func (j *IngestionJob) Percent() int {
	if j.ProgressTotal <= 0 {
		return 0
	}
	p := j.ProgressDone * 100 / j.ProgressTotal
	if p > 100 {
		p = 100
	}
	return p
}
