package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/utils"
)

const (
	defaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	defaultEmbedModel    = "text-embedding-004"
	defaultGenerateModel = "gemini-2.5-flash"
)

// EmbeddingDims is the fixed output dimensionality requested from the
// embedding model; callers validate against it.
const EmbeddingDims = 768

type GenerateOptions struct {
	Temperature     float64
	MaxOutputTokens int
}

// Client is the Generative Language API surface the pipeline consumes:
// one embedding call and one text-generation call.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// HTTPError carries the provider status code so retry policies can tell
// rate limiting apart from other failures.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

type client struct {
	log           *logger.Logger
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	embedModel    string
	generateModel string
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	return &client{
		log:           log.With("service", "GeminiClient"),
		httpClient:    &http.Client{Timeout: 120 * time.Second},
		baseURL:       utils.GetEnv("GEMINI_BASE_URL", defaultBaseURL, log),
		apiKey:        apiKey,
		embedModel:    utils.GetEnv("GEMINI_EMBED_MODEL", defaultEmbedModel, log),
		generateModel: utils.GetEnv("GEMINI_GENERATE_MODEL", defaultGenerateModel, log),
	}, nil
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type embedRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	OutputDimensionality int     `json:"outputDimensionality"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	err := c.do(ctx, fmt.Sprintf("/models/%s:embedContent", c.embedModel), embedRequest{
		Model:                "models/" + c.embedModel,
		Content:              content{Parts: []contentPart{{Text: text}}},
		OutputDimensionality: EmbeddingDims,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embedContent: empty embedding in response")
	}
	return resp.Embedding.Values, nil
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var resp generateResponse
	err := c.do(ctx, fmt.Sprintf("/models/%s:generateContent", c.generateModel), generateRequest{
		Contents: []content{{Role: "user", Parts: []contentPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini generateContent: no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

// do issues a single request; retry policy lives with the caller.
func (c *client) do(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("gemini response read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("gemini response decode: %w", err)
		}
	}
	return nil
}
