package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

func testChunkConfig() ingestion.ChunkConfig {
	return ingestion.ChunkConfig{MinChars: 10, MaxChars: 60, Overlap: 5, PreviewChars: 20}
}

type ingestionFixture struct {
	svc    *IngestionService
	books  *fakeBookRepo
	jobs   *fakeJobRepo
	chunks *fakeChunkRepo
	blob   *fakeBlob
	ext    *fakeExtractor
}

func newIngestionFixture(t *testing.T, book *types.Book, ext *fakeExtractor) *ingestionFixture {
	t.Helper()
	books := newFakeBookRepo(book)
	jobs := newFakeJobRepo()
	chunks := &fakeChunkRepo{}
	blob := newFakeBlob()
	embedder := NewEmbeddingService(&fakeEmbedder{dims: 3}, testEmbeddingConfig(), logger.NewNop())

	svc, err := NewIngestionService(IngestionDeps{
		Log:       logger.NewNop(),
		Books:     books,
		Jobs:      jobs,
		Chunks:    chunks,
		Blob:      blob,
		Extractor: ext,
		Embedder:  embedder,
		ChunkCfg:  testChunkConfig(),
	})
	if err != nil {
		t.Fatalf("build ingestion service: %v", err)
	}
	return &ingestionFixture{svc: svc, books: books, jobs: jobs, chunks: chunks, blob: blob, ext: ext}
}

func draftBook() *types.Book {
	return &types.Book{ID: uuid.New(), Title: "Child Development", Status: types.BookStatusDraft}
}

func TestStartRejectsUnknownBook(t *testing.T) {
	fx := newIngestionFixture(t, draftBook(), &fakeExtractor{})
	_, err := fx.svc.Start(context.Background(), uuid.New())
	if !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}

func TestStartRejectsProcessingBook(t *testing.T) {
	book := draftBook()
	book.Status = types.BookStatusProcessing
	fx := newIngestionFixture(t, book, &fakeExtractor{})

	_, err := fx.svc.Start(context.Background(), book.ID)
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestStartRejectsReadyBook(t *testing.T) {
	book := draftBook()
	book.Status = types.BookStatusReady
	fx := newIngestionFixture(t, book, &fakeExtractor{})

	_, err := fx.svc.Start(context.Background(), book.ID)
	if !errors.Is(err, ErrAlreadyReady) {
		t.Fatalf("expected ErrAlreadyReady, got %v", err)
	}
}

func TestStartRejectsMissingSource(t *testing.T) {
	book := draftBook()
	fx := newIngestionFixture(t, book, &fakeExtractor{})

	_, err := fx.svc.Start(context.Background(), book.ID)
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
}

func TestRunHappyPath(t *testing.T) {
	book := draftBook()
	text := strings.Repeat("Development proceeds in stages. ", 10)
	fx := newIngestionFixture(t, book, &fakeExtractor{pages: []ingestion.PageText{{Page: 1, Text: text}}})
	fx.blob.objects[RawBookPath(book.ID)] = []byte("%PDF-fake")

	jobID := seedJob(t, fx, book.ID)
	if err := fx.svc.Run(context.Background(), jobID, book.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	job, _ := fx.jobs.GetByID(context.Background(), nil, jobID)
	if job.Status != types.JobStatusDone {
		t.Fatalf("expected job done, got %s (error %q)", job.Status, job.Error)
	}
	if job.FinishedAt == nil {
		t.Fatalf("expected finished_at set")
	}
	if job.ProgressDone != job.ProgressTotal || job.ProgressTotal == 0 {
		t.Fatalf("expected full progress, got %d/%d", job.ProgressDone, job.ProgressTotal)
	}

	got, _ := fx.books.GetByID(context.Background(), nil, book.ID)
	if got.Status != types.BookStatusReady {
		t.Fatalf("expected book ready, got %s", got.Status)
	}
	if got.ChunksCount == 0 {
		t.Fatalf("expected chunks_count set")
	}
	if got.PageCount != 1 {
		t.Fatalf("expected page_count 1, got %d", got.PageCount)
	}

	saved, _ := fx.chunks.GetByBookIDs(context.Background(), nil, []uuid.UUID{book.ID})
	if len(saved) != got.ChunksCount {
		t.Fatalf("chunks_count %d does not match saved chunks %d", got.ChunksCount, len(saved))
	}
	for _, ch := range saved {
		if len(ch.Embedding) == 0 {
			t.Fatalf("chunk %d saved without embedding", ch.Index)
		}
	}
}

func TestRunEmptyDocument(t *testing.T) {
	book := draftBook()
	fx := newIngestionFixture(t, book, &fakeExtractor{pages: []ingestion.PageText{{Page: 1, Text: "   "}}})
	fx.blob.objects[RawBookPath(book.ID)] = []byte("%PDF-fake")

	jobID := seedJob(t, fx, book.ID)
	if err := fx.svc.Run(context.Background(), jobID, book.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	job, _ := fx.jobs.GetByID(context.Background(), nil, jobID)
	if job.Status != types.JobStatusDone {
		t.Fatalf("empty document must still complete, got %s", job.Status)
	}
	got, _ := fx.books.GetByID(context.Background(), nil, book.ID)
	if got.Status != types.BookStatusReady || got.ChunksCount != 0 {
		t.Fatalf("expected ready book with 0 chunks, got %s / %d", got.Status, got.ChunksCount)
	}
	if !containsLine(fx.jobs.logLines(jobID), "No new chunks to index") {
		t.Fatalf("expected empty-run log line, got %v", fx.jobs.logLines(jobID))
	}
}

func TestRunSkipsAlreadyIndexedChunks(t *testing.T) {
	book := draftBook()
	text := strings.Repeat("Attachment theory matters. ", 10)
	fx := newIngestionFixture(t, book, &fakeExtractor{pages: []ingestion.PageText{{Page: 1, Text: text}}})
	fx.blob.objects[RawBookPath(book.ID)] = []byte("%PDF-fake")

	first := seedJob(t, fx, book.ID)
	if err := fx.svc.Run(context.Background(), first, book.ID); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	countAfterFirst, _ := fx.chunks.CountByBookID(context.Background(), nil, book.ID)

	second := seedJob(t, fx, book.ID)
	if err := fx.svc.Run(context.Background(), second, book.ID); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	countAfterSecond, _ := fx.chunks.CountByBookID(context.Background(), nil, book.ID)

	if countAfterSecond != countAfterFirst {
		t.Fatalf("re-ingest must not duplicate chunks: %d then %d", countAfterFirst, countAfterSecond)
	}
	if !containsLine(fx.jobs.logLines(second), "No new chunks to index") {
		t.Fatalf("expected dedup log line, got %v", fx.jobs.logLines(second))
	}
}

func TestRunExtractorFailureMarksJobAndBook(t *testing.T) {
	book := draftBook()
	fx := newIngestionFixture(t, book, &fakeExtractor{err: errExtractorBroken})
	fx.blob.objects[RawBookPath(book.ID)] = []byte("%PDF-fake")

	jobID := seedJob(t, fx, book.ID)
	if err := fx.svc.Run(context.Background(), jobID, book.ID); err == nil {
		t.Fatalf("expected run to fail")
	}

	job, _ := fx.jobs.GetByID(context.Background(), nil, jobID)
	if job.Status != types.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if job.Error == "" || job.FinishedAt == nil {
		t.Fatalf("expected error and finished_at on failed job")
	}

	got, _ := fx.books.GetByID(context.Background(), nil, book.ID)
	if got.Status != types.BookStatusError {
		t.Fatalf("book must not stay in processing, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("expected last_error recorded")
	}
}

func seedJob(t *testing.T, fx *ingestionFixture, bookID uuid.UUID) uuid.UUID {
	t.Helper()
	job := &types.IngestionJob{ID: uuid.New(), BookID: bookID, Status: types.JobStatusQueued, Step: types.JobStepDownload}
	if _, err := fx.jobs.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job.ID
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
