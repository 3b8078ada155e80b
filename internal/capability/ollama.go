package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama talks to a local Ollama server for embeddings and generation.
type Ollama struct {
	baseURL         string
	embeddingModel  string
	generationModel string
	httpClient      *http.Client
}

// NewOllama constructs an Ollama client. Request deadlines come from the caller context.
func NewOllama(baseURL, embeddingModel, generationModel string) *Ollama {
	return &Ollama{
		baseURL:         strings.TrimRight(baseURL, "/"),
		embeddingModel:  embeddingModel,
		generationModel: generationModel,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := o.postJSON(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.embeddingModel, Prompt: text}, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("ollama embed: empty embedding")
	}
	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

func (o *Ollama) Model() string {
	return "ollama/" + o.embeddingModel
}

func (o *Ollama) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	req := ollamaGenerateRequest{
		Model:   o.generationModel,
		Prompt:  prompt,
		Options: map[string]any{"temperature": c.Temperature},
	}
	if c.JSON {
		req.Format = "json"
	}
	if c.MaxTokens > 0 {
		req.Options["num_predict"] = c.MaxTokens
	}

	var resp ollamaGenerateResponse
	if err := o.postJSON(ctx, "/api/generate", req, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

func (o *Ollama) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
