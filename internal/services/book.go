package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/repos"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

type BookDeps struct {
	Log    *logger.Logger
	Books  repos.BookRepo
	Jobs   repos.IngestionJobRepo
	Chunks repos.BookChunkRepo
	Blob   BlobStore
}

type BookService struct {
	deps BookDeps
	log  *logger.Logger
}

func NewBookService(deps BookDeps) (*BookService, error) {
	if deps.Log == nil || deps.Books == nil || deps.Jobs == nil || deps.Chunks == nil || deps.Blob == nil {
		return nil, fmt.Errorf("book service: missing deps")
	}
	return &BookService{
		deps: deps,
		log:  deps.Log.With("service", "BookService"),
	}, nil
}

// ListSearchable returns the books the public search surface may touch.
func (s *BookService) ListSearchable(ctx context.Context) ([]*types.Book, error) {
	return s.deps.Books.ListActiveReady(ctx, nil)
}

// Delete removes the book with everything derived from it: chunks, job
// history, the raw file prefix in the bucket, then the record itself.
// Blob cleanup failures are logged but do not block the delete; orphan
// objects in the bucket are harmless and can be swept later.
func (s *BookService) Delete(ctx context.Context, bookID uuid.UUID) error {
	if _, err := s.deps.Books.GetByID(ctx, nil, bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBookNotFound
		}
		return err
	}

	if err := s.deps.Chunks.DeleteByBookID(ctx, nil, bookID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.deps.Jobs.DeleteByBookID(ctx, nil, bookID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	prefix := fmt.Sprintf("books/raw/%s/", bookID)
	if err := s.deps.Blob.DeletePrefix(ctx, prefix); err != nil {
		s.log.Warn("blob cleanup failed", "book_id", bookID, "prefix", prefix, "error", err)
	}
	if err := s.deps.Books.Delete(ctx, nil, bookID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	s.log.Info("book deleted", "book_id", bookID)
	return nil
}
