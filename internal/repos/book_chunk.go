package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

type BookChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.BookChunk) ([]*types.BookChunk, error)
	GetByBookIDs(ctx context.Context, tx *gorm.DB, bookIDs []uuid.UUID) ([]*types.BookChunk, error)
	ExistingHashes(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (map[string]struct{}, error)
	CountByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error)
	DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error
}

type bookChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBookChunkRepo(db *gorm.DB, baseLog *logger.Logger) BookChunkRepo {
	return &bookChunkRepo{db: db, log: baseLog.With("repo", "BookChunkRepo")}
}

func (r *bookChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.BookChunk) ([]*types.BookChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.BookChunk{}, nil
	}

	// Keep batches small because Text is large
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *bookChunkRepo) GetByBookIDs(ctx context.Context, tx *gorm.DB, bookIDs []uuid.UUID) ([]*types.BookChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.BookChunk
	if len(bookIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("book_id IN ?", bookIDs).
		Order("book_id, chunk_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *bookChunkRepo) ExistingHashes(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (map[string]struct{}, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var hashes []string
	if err := transaction.WithContext(ctx).
		Model(&types.BookChunk{}).
		Where("book_id = ?", bookID).
		Pluck("text_hash", &hashes).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		out[h] = struct{}{}
	}
	return out, nil
}

func (r *bookChunkRepo) CountByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.BookChunk{}).
		Where("book_id = ?", bookID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *bookChunkRepo) DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Delete(&types.BookChunk{}, "book_id = ?", bookID).Error
}
