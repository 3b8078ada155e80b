package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Embedder and Generator with the Google generative AI SDK.
type Gemini struct {
	client          *genai.Client
	embeddingModel  string
	generationModel string
}

// NewGemini creates a client bound to apiKey.
func NewGemini(ctx context.Context, apiKey, embeddingModel, generationModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai client init failed: %w", err)
	}
	return &Gemini{
		client:          client,
		embeddingModel:  embeddingModel,
		generationModel: generationModel,
	}, nil
}

// Embed returns the embedding vector for text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.client.EmbeddingModel(g.embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("gemini embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

func (g *Gemini) Model() string {
	return "gemini/" + g.embeddingModel
}

// Generate sends prompt to the generation model. A model handle is built per
// call because generation settings live on the handle.
func (g *Gemini) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	model := g.client.GenerativeModel(g.generationModel)
	model.SetTemperature(c.Temperature)
	if c.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.MaxTokens))
	}
	if c.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content returned from model")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("response part is not text, received %T", resp.Candidates[0].Content.Parts[0])
	}
	return b.String(), nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
