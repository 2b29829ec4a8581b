package repos

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

// maxJobLogLines bounds the append-only job log; oldest lines are dropped first.
const maxJobLogLines = 200

type IngestionJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	AppendLog(ctx context.Context, tx *gorm.DB, id uuid.UUID, line string) error
	DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error
}

type ingestionJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionJobRepo(db *gorm.DB, baseLog *logger.Logger) IngestionJobRepo {
	return &ingestionJobRepo{db: db, log: baseLog.With("repo", "IngestionJobRepo")}
}

func (r *ingestionJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(job.Logs) == 0 {
		job.Logs = datatypes.JSON([]byte("[]"))
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *ingestionJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.IngestionJob
	if err := transaction.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *ingestionJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(fields) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *ingestionJobRepo) AppendLog(ctx context.Context, tx *gorm.DB, id uuid.UUID, line string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	job, err := r.GetByID(ctx, transaction, id)
	if err != nil {
		return err
	}

	var lines []string
	if len(job.Logs) > 0 {
		if err := json.Unmarshal(job.Logs, &lines); err != nil {
			r.log.Warn("job log column unreadable, resetting", "job_id", id, "error", err)
			lines = nil
		}
	}
	lines = append(lines, line)
	if len(lines) > maxJobLogLines {
		lines = lines[len(lines)-maxJobLogLines:]
	}

	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Model(&types.IngestionJob{}).
		Where("id = ?", id).
		Update("logs", datatypes.JSON(raw)).Error
}

func (r *ingestionJobRepo) DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Delete(&types.IngestionJob{}, "book_id = ?", bookID).Error
}
