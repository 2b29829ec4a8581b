package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion/extractor"
	"github.com/biboandbobo2/psych-dev-backend/internal/types"
)

// In-memory doubles for the repo and client interfaces the services
// depend on. They only implement what the tests exercise.

type fakeBookRepo struct {
	mu    sync.Mutex
	books map[uuid.UUID]*types.Book
}

func newFakeBookRepo(books ...*types.Book) *fakeBookRepo {
	m := make(map[uuid.UUID]*types.Book, len(books))
	for _, b := range books {
		m[b.ID] = b
	}
	return &fakeBookRepo{books: m}
}

func (f *fakeBookRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Book
	for _, id := range ids {
		if b, ok := f.books[id]; ok {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookRepo) ListActiveReady(ctx context.Context, tx *gorm.DB) ([]*types.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Book
	for _, b := range f.books {
		if b.Active && b.Status == types.BookStatusReady {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			b.Status = v.(string)
		case "last_error":
			b.LastError = v.(string)
		case "chunks_count":
			b.ChunksCount = v.(int)
		case "page_count":
			b.PageCount = v.(int)
		case "last_job_id":
			jobID := v.(uuid.UUID)
			b.LastJobID = &jobID
		}
	}
	return nil
}

func (f *fakeBookRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.books, id)
	return nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.IngestionJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*types.IngestionJob)}
}

func (f *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.IngestionJob) (*types.IngestionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if len(job.Logs) == 0 {
		job.Logs = datatypes.JSON([]byte("[]"))
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return job, nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range fields {
		switch k {
		case "status":
			j.Status = v.(string)
		case "step":
			j.Step = v.(string)
		case "progress_done":
			j.ProgressDone = v.(int)
		case "progress_total":
			j.ProgressTotal = v.(int)
		case "error":
			j.Error = v.(string)
		case "finished_at":
			j.FinishedAt = v.(*time.Time)
		}
	}
	return nil
}

func (f *fakeJobRepo) AppendLog(ctx context.Context, tx *gorm.DB, id uuid.UUID, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	var lines []string
	if len(j.Logs) > 0 {
		_ = json.Unmarshal(j.Logs, &lines)
	}
	lines = append(lines, line)
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	j.Logs = datatypes.JSON(raw)
	return nil
}

func (f *fakeJobRepo) DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, j := range f.jobs {
		if j.BookID == bookID {
			delete(f.jobs, id)
		}
	}
	return nil
}

func (f *fakeJobRepo) logLines(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lines []string
	if j, ok := f.jobs[id]; ok {
		_ = json.Unmarshal(j.Logs, &lines)
	}
	return lines
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks []*types.BookChunk
}

func (f *fakeChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.BookChunk) ([]*types.BookChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return chunks, nil
}

func (f *fakeChunkRepo) GetByBookIDs(ctx context.Context, tx *gorm.DB, bookIDs []uuid.UUID) ([]*types.BookChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uuid.UUID]struct{}, len(bookIDs))
	for _, id := range bookIDs {
		want[id] = struct{}{}
	}
	var out []*types.BookChunk
	for _, ch := range f.chunks {
		if _, ok := want[ch.BookID]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) ExistingHashes(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{})
	for _, ch := range f.chunks {
		if ch.BookID == bookID {
			out[ch.TextHash] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) CountByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, ch := range f.chunks {
		if ch.BookID == bookID {
			count++
		}
	}
	return count, nil
}

func (f *fakeChunkRepo) DeleteByBookID(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.chunks[:0]
	for _, ch := range f.chunks {
		if ch.BookID != bookID {
			kept = append(kept, ch)
		}
	}
	f.chunks = kept
	return nil
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeBlob) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlob) DeletePrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, prefix)
	return nil
}

type fakeExtractor struct {
	pages []ingestion.PageText
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) (*extractor.ParsedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &extractor.ParsedDocument{Pages: f.pages, TotalPages: len(f.pages)}, nil
}

var errExtractorBroken = errors.New("extractor broken")
