package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion/extractor"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/repos"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

// BlobStore is the slice of the bucket service the pipeline needs.
type BlobStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// RawBookPath is where the admin UI uploads the source PDF.
func RawBookPath(bookID uuid.UUID) string {
	return fmt.Sprintf("books/raw/%s/original.pdf", bookID)
}

type IngestionDeps struct {
	Log       *logger.Logger
	Books     repos.BookRepo
	Jobs      repos.IngestionJobRepo
	Chunks    repos.BookChunkRepo
	Blob      BlobStore
	Extractor extractor.TextExtractor
	Embedder  *EmbeddingService
	ChunkCfg  ingestion.ChunkConfig
}

type IngestionService struct {
	deps IngestionDeps
	log  *logger.Logger
}

func NewIngestionService(deps IngestionDeps) (*IngestionService, error) {
	if deps.Log == nil || deps.Books == nil || deps.Jobs == nil || deps.Chunks == nil ||
		deps.Blob == nil || deps.Extractor == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("ingestion service: missing deps")
	}
	if deps.ChunkCfg.MaxChars == 0 {
		deps.ChunkCfg = ingestion.DefaultChunkConfig()
	}
	return &IngestionService{
		deps: deps,
		log:  deps.Log.With("service", "IngestionService"),
	}, nil
}

// Start admits one ingestion run for a book: rejects when the book is
// already processing or ready, verifies the raw file exists, records a
// queued job, flips the book to processing and kicks off the run. The
// status check is the only admission control; the narrow race window is
// acceptable for an admin-triggered operation.
func (s *IngestionService) Start(ctx context.Context, bookID uuid.UUID) (*types.IngestionJob, error) {
	book, err := s.deps.Books.GetByID(ctx, nil, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	switch book.Status {
	case types.BookStatusProcessing:
		return nil, ErrAlreadyProcessing
	case types.BookStatusReady:
		return nil, ErrAlreadyReady
	}

	key := RawBookPath(bookID)
	exists, err := s.deps.Blob.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check source file: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, key)
	}

	logs, _ := json.Marshal([]string{"Job created"})
	job := &types.IngestionJob{
		ID:        uuid.New(),
		BookID:    bookID,
		Status:    types.JobStatusQueued,
		Step:      types.JobStepDownload,
		Logs:      datatypes.JSON(logs),
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.deps.Jobs.Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.deps.Books.UpdateFields(ctx, nil, bookID, map[string]any{
		"status":      types.BookStatusProcessing,
		"last_job_id": job.ID,
		"last_error":  "",
	}); err != nil {
		return nil, fmt.Errorf("mark book processing: %w", err)
	}

	go func() {
		// Detached from the request context; the job record is the
		// only channel back to the caller.
		if err := s.Run(context.Background(), job.ID, bookID); err != nil {
			s.log.Error("ingestion run failed", "job_id", job.ID, "book_id", bookID, "error", err)
		}
	}()

	return job, nil
}

// Run drives one job through download -> extract -> chunk -> embed -> save.
// Any step failure marks the job failed and moves the book out of
// processing; a book is never left stuck.
func (s *IngestionService) Run(ctx context.Context, jobID, bookID uuid.UUID) error {
	log := s.log.With("job_id", jobID, "book_id", bookID)

	s.setJob(ctx, jobID, map[string]any{
		"status": types.JobStatusRunning,
		"step":   types.JobStepDownload,
	})
	s.appendLog(ctx, jobID, "Starting ingestion...")

	// download
	s.appendLog(ctx, jobID, "Downloading PDF...")
	key := RawBookPath(bookID)
	exists, err := s.deps.Blob.Exists(ctx, key)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s", ErrSourceMissing, key)
	}
	if err != nil {
		return s.fail(ctx, jobID, bookID, err)
	}
	data, err := s.deps.Blob.Download(ctx, key)
	if err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("download: %w", err))
	}
	s.appendLog(ctx, jobID, fmt.Sprintf("Downloaded PDF (%d KB)", len(data)/1024))

	// extract
	s.setJob(ctx, jobID, map[string]any{"step": types.JobStepExtract})
	s.appendLog(ctx, jobID, "Extracting text...")
	parsed, err := s.deps.Extractor.Extract(ctx, data)
	if err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("extract: %w", err))
	}
	totalChars := 0
	for _, p := range parsed.Pages {
		totalChars += len(p.Text)
	}
	if err := s.deps.Books.UpdateFields(ctx, nil, bookID, map[string]any{"page_count": parsed.TotalPages}); err != nil {
		log.Warn("failed to record page count", "error", err)
	}
	s.appendLog(ctx, jobID, fmt.Sprintf("Extracted text from %d pages (%d chars)", parsed.TotalPages, totalChars))
	if ingestion.IsProbablyScan(parsed.Pages) {
		// Proceed anyway: chunking degrades to zero chunks instead of crashing.
		s.appendLog(ctx, jobID, "Warning: low text density, PDF may be a scan without OCR")
	}

	// chunk
	s.setJob(ctx, jobID, map[string]any{"step": types.JobStepChunk})
	s.appendLog(ctx, jobID, "Creating chunks...")
	chunks := ingestion.ChunkPages(parsed.Pages, s.deps.ChunkCfg)
	existing, err := s.deps.Chunks.ExistingHashes(ctx, nil, bookID)
	if err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("load existing hashes: %w", err))
	}
	fresh := ingestion.DeduplicateChunks(chunks, existing)
	if dups := len(chunks) - len(fresh); dups > 0 {
		s.appendLog(ctx, jobID, fmt.Sprintf("Skipped %d chunks already indexed", dups))
	}
	if len(fresh) == 0 {
		// Empty or fully deduplicated document: completed-but-empty run,
		// the book still becomes ready.
		s.appendLog(ctx, jobID, "No new chunks to index")
		return s.finish(ctx, jobID, bookID, 0)
	}
	s.appendLog(ctx, jobID, fmt.Sprintf("Created %d chunks", len(fresh)))
	s.setJob(ctx, jobID, map[string]any{"progress_done": 0, "progress_total": len(fresh)})

	// embed
	s.setJob(ctx, jobID, map[string]any{"step": types.JobStepEmbed})
	s.appendLog(ctx, jobID, "Getting embeddings...")
	texts := make([]string, len(fresh))
	for i, ch := range fresh {
		texts[i] = ch.Text
	}
	vectors, err := s.deps.Embedder.EmbedBatch(ctx, texts, func(done, total int) {
		s.setJob(ctx, jobID, map[string]any{"progress_done": done, "progress_total": total})
	})
	if err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("embed: %w", err))
	}
	s.appendLog(ctx, jobID, fmt.Sprintf("Got %d embeddings", len(vectors)))

	// save
	s.setJob(ctx, jobID, map[string]any{"step": types.JobStepSave})
	s.appendLog(ctx, jobID, "Saving chunks...")
	records := make([]*types.BookChunk, len(fresh))
	for i, ch := range fresh {
		raw, err := json.Marshal(vectors[i])
		if err != nil {
			return s.fail(ctx, jobID, bookID, fmt.Errorf("encode embedding: %w", err))
		}
		records[i] = &types.BookChunk{
			ID:        uuid.New(),
			BookID:    bookID,
			Index:     ch.Index,
			PageStart: ch.PageStart,
			PageEnd:   ch.PageEnd,
			Text:      ch.Text,
			Preview:   ch.Preview,
			TextHash:  ch.TextHash,
			Embedding: datatypes.JSON(raw),
		}
	}
	if _, err := s.deps.Chunks.Create(ctx, nil, records); err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("save chunks: %w", err))
	}

	return s.finish(ctx, jobID, bookID, len(fresh))
}

func (s *IngestionService) finish(ctx context.Context, jobID, bookID uuid.UUID, saved int) error {
	count, err := s.deps.Chunks.CountByBookID(ctx, nil, bookID)
	if err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("count chunks: %w", err))
	}
	if err := s.deps.Books.UpdateFields(ctx, nil, bookID, map[string]any{
		"status":       types.BookStatusReady,
		"chunks_count": int(count),
	}); err != nil {
		return s.fail(ctx, jobID, bookID, fmt.Errorf("mark book ready: %w", err))
	}
	now := time.Now().UTC()
	s.setJob(ctx, jobID, map[string]any{
		"status":         types.JobStatusDone,
		"progress_done":  saved,
		"progress_total": saved,
		"finished_at":    &now,
	})
	s.appendLog(ctx, jobID, fmt.Sprintf("Completed: %d chunks indexed", saved))
	return nil
}

func (s *IngestionService) fail(ctx context.Context, jobID, bookID uuid.UUID, cause error) error {
	now := time.Now().UTC()
	s.setJob(ctx, jobID, map[string]any{
		"status":      types.JobStatusFailed,
		"error":       cause.Error(),
		"finished_at": &now,
	})
	s.appendLog(ctx, jobID, "Error: "+cause.Error())
	if err := s.deps.Books.UpdateFields(ctx, nil, bookID, map[string]any{
		"status":     types.BookStatusError,
		"last_error": cause.Error(),
	}); err != nil {
		s.log.Error("failed to move book out of processing", "book_id", bookID, "error", err)
	}
	return cause
}

func (s *IngestionService) setJob(ctx context.Context, jobID uuid.UUID, fields map[string]any) {
	if err := s.deps.Jobs.UpdateFields(ctx, nil, jobID, fields); err != nil {
		s.log.Warn("job update failed", "job_id", jobID, "error", err)
	}
}

func (s *IngestionService) appendLog(ctx context.Context, jobID uuid.UUID, line string) {
	if err := s.deps.Jobs.AppendLog(ctx, nil, jobID, line); err != nil {
		s.log.Warn("job log append failed", "job_id", jobID, "error", err)
	}
}
