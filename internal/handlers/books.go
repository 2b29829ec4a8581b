package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/services"
)

// Query validation bounds shared by search and answer.
const (
	minQueryChars = 3
	maxQueryChars = 500
	minBooks      = 1
	maxBooks      = 10
)

type BookHandler struct {
	log       *logger.Logger
	books     *services.BookService
	retrieval *services.RetrievalService
	answers   *services.AnswerService
}

func NewBookHandler(log *logger.Logger, books *services.BookService, retrieval *services.RetrievalService, answers *services.AnswerService) *BookHandler {
	return &BookHandler{
		log:       log.With("handler", "BookHandler"),
		books:     books,
		retrieval: retrieval,
		answers:   answers,
	}
}

// List returns the active ready books the reader may search over.
func (h *BookHandler) List(c *gin.Context) {
	books, err := h.books.ListSearchable(c.Request.Context())
	if err != nil {
		h.log.Error("list books failed", "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "failed to list books")
		return
	}
	RespondOK(c, http.StatusOK, gin.H{"books": books})
}

type queryRequest struct {
	Query   string   `json:"query"`
	BookIDs []string `json:"bookIds"`
}

// validate applies the shared bounds and parses book ids; a non-empty
// message means rejection.
func (r *queryRequest) validate() ([]uuid.UUID, string) {
	r.Query = strings.TrimSpace(r.Query)
	n := utf8.RuneCountInString(r.Query)
	if n < minQueryChars || n > maxQueryChars {
		return nil, "query must be between 3 and 500 characters"
	}
	if len(r.BookIDs) < minBooks || len(r.BookIDs) > maxBooks {
		return nil, "between 1 and 10 books must be selected"
	}
	ids := make([]uuid.UUID, 0, len(r.BookIDs))
	seen := make(map[uuid.UUID]struct{}, len(r.BookIDs))
	for _, raw := range r.BookIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, "invalid book id: " + raw
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, ""
}

type searchResult struct {
	ChunkID   uuid.UUID `json:"chunkId"`
	BookID    uuid.UUID `json:"bookId"`
	BookTitle string    `json:"bookTitle"`
	PageStart int       `json:"pageStart"`
	PageEnd   int       `json:"pageEnd"`
	Preview   string    `json:"preview"`
	Score     float64   `json:"score"`
}

// Search runs semantic retrieval and returns chunk previews.
func (h *BookHandler) Search(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}
	ids, msg := req.validate()
	if msg != "" {
		RespondError(c, http.StatusBadRequest, CodeValidation, msg)
		return
	}

	start := time.Now()
	ranked, err := h.retrieval.Retrieve(c.Request.Context(), req.Query, ids)
	if err != nil {
		h.log.Error("search failed", "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "search failed")
		return
	}

	results := make([]searchResult, len(ranked))
	for i, rc := range ranked {
		results[i] = searchResult{
			ChunkID:   rc.ChunkID,
			BookID:    rc.BookID,
			BookTitle: rc.BookTitle,
			PageStart: rc.PageStart,
			PageEnd:   rc.PageEnd,
			Preview:   rc.Preview,
			Score:     rc.Score,
		}
	}
	RespondOK(c, http.StatusOK, gin.H{
		"results": results,
		"tookMs":  time.Since(start).Milliseconds(),
	})
}

// Answer runs retrieval then composes a grounded, cited answer.
func (h *BookHandler) Answer(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}
	ids, msg := req.validate()
	if msg != "" {
		RespondError(c, http.StatusBadRequest, CodeValidation, msg)
		return
	}

	start := time.Now()
	ranked, err := h.retrieval.Retrieve(c.Request.Context(), req.Query, ids)
	if err != nil {
		h.log.Error("retrieval for answer failed", "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "retrieval failed")
		return
	}

	answer, err := h.answers.Compose(c.Request.Context(), req.Query, ranked)
	if err != nil {
		if errors.Is(err, services.ErrUpstreamUnavailable) {
			RespondError(c, http.StatusServiceUnavailable, CodeUpstream, "answer generation is temporarily unavailable")
			return
		}
		h.log.Error("answer failed", "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "answer failed")
		return
	}

	RespondOK(c, http.StatusOK, gin.H{
		"answer":    answer.Answer,
		"citations": answer.Citations,
		"tookMs":    time.Since(start).Milliseconds(),
	})
}
