package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

func newBookFixture(t *testing.T, book *types.Book) (*BookService, *fakeBookRepo, *fakeJobRepo, *fakeChunkRepo, *fakeBlob) {
	t.Helper()
	books := newFakeBookRepo(book)
	jobs := newFakeJobRepo()
	chunks := &fakeChunkRepo{}
	blob := newFakeBlob()

	svc, err := NewBookService(BookDeps{
		Log:    logger.NewNop(),
		Books:  books,
		Jobs:   jobs,
		Chunks: chunks,
		Blob:   blob,
	})
	if err != nil {
		t.Fatalf("build book service: %v", err)
	}
	return svc, books, jobs, chunks, blob
}

func TestDeleteCascades(t *testing.T) {
	book := &types.Book{ID: uuid.New(), Title: "To Delete", Status: types.BookStatusReady, Active: true}
	svc, books, jobs, chunks, blob := newBookFixture(t, book)

	ctx := context.Background()
	jobs.Create(ctx, nil, &types.IngestionJob{ID: uuid.New(), BookID: book.ID})
	chunks.Create(ctx, nil, []*types.BookChunk{{ID: uuid.New(), BookID: book.ID, TextHash: "h"}})

	if err := svc.Delete(ctx, book.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := books.GetByID(ctx, nil, book.ID); err == nil {
		t.Fatalf("book record should be gone")
	}
	count, _ := chunks.CountByBookID(ctx, nil, book.ID)
	if count != 0 {
		t.Fatalf("chunks should be gone, %d left", count)
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("jobs should be gone, %d left", len(jobs.jobs))
	}
	wantPrefix := fmt.Sprintf("books/raw/%s/", book.ID)
	if len(blob.deleted) != 1 || blob.deleted[0] != wantPrefix {
		t.Fatalf("expected blob prefix %q deleted, got %v", wantPrefix, blob.deleted)
	}
}

func TestDeleteUnknownBook(t *testing.T) {
	svc, _, _, _, _ := newBookFixture(t, &types.Book{ID: uuid.New(), Title: "Other"})
	if err := svc.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestListSearchableFiltersInactive(t *testing.T) {
	ready := &types.Book{ID: uuid.New(), Title: "Ready", Status: types.BookStatusReady, Active: true}
	svc, books, _, _, _ := newBookFixture(t, ready)
	draftID := uuid.New()
	books.books[draftID] = &types.Book{ID: draftID, Title: "Draft", Status: types.BookStatusDraft, Active: true}

	got, err := svc.ListSearchable(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Ready" {
		t.Fatalf("expected only the ready active book, got %v", got)
	}
}
