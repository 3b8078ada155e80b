package capability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestOllamaEmbed(t *testing.T) {
	client := NewOllama("http://ollama:11434/", "nomic-embed-text", "llama3")
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "http://ollama:11434/api/embeddings" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		var payload ollamaEmbedRequest
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if payload.Model != "nomic-embed-text" || payload.Prompt != "ocean heat" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		return jsonResponse(http.StatusOK, `{"embedding":[0.1,0.2,0.3]}`), nil
	})}

	vec, err := client.Embed(context.Background(), "ocean heat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[2] != float32(0.3) {
		t.Fatalf("unexpected vector %v", vec)
	}
	if client.Model() != "ollama/nomic-embed-text" {
		t.Fatalf("unexpected model id %s", client.Model())
	}
}

func TestOllamaGenerateRequestsJSON(t *testing.T) {
	client := NewOllama("http://ollama:11434", "e", "llama3")
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		var payload ollamaGenerateRequest
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if payload.Format != "json" || payload.Stream {
			t.Fatalf("expected non-streaming json request, got %+v", payload)
		}
		return jsonResponse(http.StatusOK, `{"response":"{\"select\":[]}"}`), nil
	})}

	out, err := client.Generate(context.Background(), "prompt", Constraints{JSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"select":[]}` {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	client := NewOllama("http://ollama:11434", "e", "g")
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"error":"loading"}`), nil
	})}
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on 503")
	}
}
