package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/biboandbobo2/psych-dev-backend/internal/clients/gcp"
	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
)

type docAIExtractor struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewDocumentAI builds a TextExtractor backed by a Document AI OCR processor.
func NewDocumentAI(log *logger.Logger) (TextExtractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "DocumentAIExtractor")

	projectID := strings.TrimSpace(os.Getenv("DOCAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("missing DOCAI_PROJECT_ID / DOCAI_PROCESSOR_ID")
	}
	location := strings.TrimSpace(os.Getenv("DOCAI_LOCATION"))
	if location == "" {
		location = "eu"
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, gcp.ClientOptionsFromEnv()...)
	client, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI extractor initialized", "endpoint", endpoint)
	return &docAIExtractor{
		log:       slog,
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
	}, nil
}

func (e *docAIExtractor) Extract(ctx context.Context, data []byte) (*ParsedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to extract")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	resp, err := e.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	doc := resp.GetDocument()
	if doc == nil {
		return nil, fmt.Errorf("documentai returned empty document")
	}

	pages := make([]ingestion.PageText, 0, len(doc.GetPages()))
	for i, p := range doc.GetPages() {
		num := int(p.GetPageNumber())
		if num == 0 {
			num = i + 1
		}
		raw := anchorText(doc.GetText(), p.GetLayout().GetTextAnchor())
		pages = append(pages, ingestion.PageText{
			Page: num,
			Text: ingestion.NormalizeText(raw),
		})
	}

	return &ParsedDocument{
		Pages:      pages,
		TotalPages: len(pages),
	}, nil
}

// anchorText reassembles page text from layout anchor segments into the
// document's full text. Segment indexes are byte offsets.
func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start := int(seg.GetStartIndex())
		end := int(seg.GetEndIndex())
		if start < 0 || end > len(full) || start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
