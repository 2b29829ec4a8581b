package extractor

import (
	"context"

	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
)

type ParsedDocument struct {
	Pages      []ingestion.PageText `json:"pages"`
	TotalPages int                  `json:"total_pages"`
}

// TextExtractor turns a raw source file into normalized per-page text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (*ParsedDocument, error)
}
