package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/repos"
)

type RetrievalConfig struct {
	// CandidateK bounds the scored pool, ContextK the slice handed to the
	// answer composer.
	CandidateK int
	ContextK   int
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{CandidateK: 50, ContextK: 10}
}

// RankedChunk is a chunk scored against a question, joined with its book
// title for display and citation.
type RankedChunk struct {
	ChunkID   uuid.UUID
	BookID    uuid.UUID
	BookTitle string
	Index     int
	PageStart int
	PageEnd   int
	Text      string
	Preview   string
	Score     float64
}

type RetrievalDeps struct {
	Log      *logger.Logger
	Books    repos.BookRepo
	Chunks   repos.BookChunkRepo
	Embedder *EmbeddingService
	Cfg      RetrievalConfig
}

type RetrievalService struct {
	deps RetrievalDeps
	log  *logger.Logger
}

func NewRetrievalService(deps RetrievalDeps) (*RetrievalService, error) {
	if deps.Log == nil || deps.Books == nil || deps.Chunks == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("retrieval service: missing deps")
	}
	if deps.Cfg.CandidateK <= 0 {
		deps.Cfg = DefaultRetrievalConfig()
	}
	return &RetrievalService{
		deps: deps,
		log:  deps.Log.With("service", "RetrievalService"),
	}, nil
}

// Retrieve embeds the question, scores every chunk of the given books by
// cosine similarity and returns the top ContextK, best first. Chunks with
// missing or malformed embeddings are skipped rather than failing the
// whole query.
func (s *RetrievalService) Retrieve(ctx context.Context, question string, bookIDs []uuid.UUID) ([]RankedChunk, error) {
	queryVec, err := s.deps.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	books, err := s.deps.Books.GetByIDs(ctx, nil, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	titles := make(map[uuid.UUID]string, len(books))
	for _, b := range books {
		titles[b.ID] = b.Title
	}

	chunks, err := s.deps.Chunks.GetByBookIDs(ctx, nil, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	ranked := make([]RankedChunk, 0, len(chunks))
	skipped := 0
	for _, ch := range chunks {
		var vec []float32
		if err := json.Unmarshal(ch.Embedding, &vec); err != nil || len(vec) != len(queryVec) {
			skipped++
			continue
		}
		ranked = append(ranked, RankedChunk{
			ChunkID:   ch.ID,
			BookID:    ch.BookID,
			BookTitle: titles[ch.BookID],
			Index:     ch.Index,
			PageStart: ch.PageStart,
			PageEnd:   ch.PageEnd,
			Text:      ch.Text,
			Preview:   ch.Preview,
			Score:     cosine(queryVec, vec),
		})
	}
	if skipped > 0 {
		s.log.Warn("chunks skipped during scoring", "skipped", skipped)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > s.deps.Cfg.CandidateK {
		ranked = ranked[:s.deps.Cfg.CandidateK]
	}
	if len(ranked) > s.deps.Cfg.ContextK {
		ranked = ranked[:s.deps.Cfg.ContextK]
	}
	return ranked, nil
}

// cosine returns the cosine similarity of two equal-length vectors, 0 when
// either is a zero vector.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
