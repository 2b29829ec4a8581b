package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/clients/gemini"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
)

// GenerativeProvider is the text-generation slice of the model client.
type GenerativeProvider interface {
	Generate(ctx context.Context, prompt string, opts gemini.GenerateOptions) (string, error)
}

type AnswerConfig struct {
	MaxParagraphs   int
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
}

func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		MaxParagraphs:   4,
		Timeout:         30 * time.Second,
		Temperature:     0.3,
		MaxOutputTokens: 2000,
	}
}

// Citation ties one answer claim back to the chunk that supports it.
type Citation struct {
	ChunkID   uuid.UUID `json:"chunkId"`
	BookID    uuid.UUID `json:"bookId"`
	BookTitle string    `json:"bookTitle"`
	PageStart int       `json:"pageStart"`
	PageEnd   int       `json:"pageEnd"`
	Claim     string    `json:"claim"`
}

type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

const noContextAnswer = "I could not find relevant information in the selected books. " +
	"Try rephrasing the question or selecting different books."

type AnswerDeps struct {
	Log      *logger.Logger
	Provider GenerativeProvider
	Cfg      AnswerConfig
}

type AnswerService struct {
	deps AnswerDeps
	log  *logger.Logger
}

func NewAnswerService(deps AnswerDeps) (*AnswerService, error) {
	if deps.Log == nil || deps.Provider == nil {
		return nil, fmt.Errorf("answer service: missing deps")
	}
	if deps.Cfg.MaxParagraphs <= 0 {
		deps.Cfg = DefaultAnswerConfig()
	}
	return &AnswerService{
		deps: deps,
		log:  deps.Log.With("service", "AnswerService"),
	}, nil
}

// modelReply is the JSON shape the model is instructed to return.
type modelReply struct {
	Answer    string `json:"answer"`
	Citations []struct {
		ChunkID string `json:"chunkId"`
		Claim   string `json:"claim"`
	} `json:"citations"`
}

// Compose builds a grounded answer from the ranked context. With no
// context it returns a fixed honest answer without calling the model.
// Citations the model invents for unknown chunk ids are dropped.
func (s *AnswerService) Compose(ctx context.Context, question string, ranked []RankedChunk) (*Answer, error) {
	if len(ranked) == 0 {
		return &Answer{Answer: noContextAnswer, Citations: []Citation{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.deps.Cfg.Timeout)
	defer cancel()

	prompt := s.buildPrompt(question, ranked)

	byID := make(map[uuid.UUID]RankedChunk, len(ranked))
	for _, rc := range ranked {
		byID[rc.ChunkID] = rc
	}

	var reply modelReply
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := s.deps.Provider.Generate(ctx, prompt, gemini.GenerateOptions{
			Temperature:     s.deps.Cfg.Temperature,
			MaxOutputTokens: s.deps.Cfg.MaxOutputTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if err := json.Unmarshal([]byte(stripCodeFences(raw)), &reply); err != nil {
			lastErr = fmt.Errorf("model reply not valid JSON: %w", err)
			s.log.Warn("answer reply parse failed", "attempt", attempt+1, "error", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
	}

	citations := make([]Citation, 0, len(reply.Citations))
	for _, c := range reply.Citations {
		id, err := uuid.Parse(c.ChunkID)
		if err != nil {
			continue
		}
		rc, ok := byID[id]
		if !ok {
			continue
		}
		citations = append(citations, Citation{
			ChunkID:   rc.ChunkID,
			BookID:    rc.BookID,
			BookTitle: rc.BookTitle,
			PageStart: rc.PageStart,
			PageEnd:   rc.PageEnd,
			Claim:     c.Claim,
		})
	}

	return &Answer{
		Answer:    capParagraphs(strings.TrimSpace(reply.Answer), s.deps.Cfg.MaxParagraphs),
		Citations: citations,
	}, nil
}

func (s *AnswerService) buildPrompt(question string, ranked []RankedChunk) string {
	var b strings.Builder
	b.WriteString("You are a careful assistant answering questions strictly from the book excerpts below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only the excerpts; never invent facts.\n")
	fmt.Fprintf(&b, "- Answer in at most %d paragraphs.\n", s.deps.Cfg.MaxParagraphs)
	b.WriteString("- If the excerpts do not contain enough information, say so honestly.\n")
	b.WriteString("- Answer in the same language the question is asked in.\n")
	b.WriteString("- Respond with strict JSON only, no markdown, in the form ")
	b.WriteString(`{"answer": "...", "citations": [{"chunkId": "...", "claim": "..."}]}.` + "\n")
	b.WriteString("- Every citation chunkId must be one of the SOURCE ids below.\n\n")
	b.WriteString("Excerpts:\n")
	for _, rc := range ranked {
		fmt.Fprintf(&b, "[SOURCE %s | %s | pages %d-%d]\n%s\n\n", rc.ChunkID, rc.BookTitle, rc.PageStart, rc.PageEnd, rc.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// stripCodeFences unwraps replies the model insists on fencing.
func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// capParagraphs truncates overlong answers instead of failing them.
func capParagraphs(answer string, max int) string {
	paragraphs := strings.Split(answer, "\n\n")
	kept := paragraphs[:0]
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) <= max {
		return strings.Join(kept, "\n\n")
	}
	return strings.Join(kept[:max], "\n\n") + "\n\n…"
}
