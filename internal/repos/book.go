package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

type BookRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Book, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Book, error)
	ListActiveReady(ctx context.Context, tx *gorm.DB) ([]*types.Book, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type bookRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBookRepo(db *gorm.DB, baseLog *logger.Logger) BookRepo {
	return &bookRepo{db: db, log: baseLog.With("repo", "BookRepo")}
}

func (r *bookRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Book, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var book types.Book
	if err := transaction.WithContext(ctx).First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Book, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Book
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *bookRepo) ListActiveReady(ctx context.Context, tx *gorm.DB) ([]*types.Book, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Book
	if err := transaction.WithContext(ctx).
		Where("active = ? AND status = ?", true, types.BookStatusReady).
		Order("title ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *bookRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.Book{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *bookRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Delete(&types.Book{}, "id = ?", id).Error
}
