package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

func TestGeneratorSendsSamplingOptions(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":" 0.8 "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, Options{}), "gen")
	out, err := gen.Generate(context.Background(), "rate this", 8, 0.1)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "0.8" {
		t.Fatalf("expected trimmed response, got %q", out)
	}
	if payload["model"] != "gen" || payload["prompt"] != "rate this" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	options, _ := payload["options"].(map[string]any)
	if options["num_predict"] != float64(8) || options["temperature"] != 0.1 {
		t.Fatalf("unexpected options: %v", options)
	}
}

func TestEmbedderTriesModelsInOrder(t *testing.T) {
	var tried []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		tried = append(tried, payload.Model)
		if payload.Model == "primary" {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, Options{}), "primary", " ", "secondary")
	vector, model, err := embedder.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if model != "secondary" || len(vector) != 3 {
		t.Fatalf("unexpected result model=%s len=%d", model, len(vector))
	}
	if strings.Join(tried, ",") != "primary,secondary" {
		t.Fatalf("unexpected model order: %v", tried)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, Options{}), "embed")
	_, _, err := embedder.EmbedText(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error kind, got %v", err)
	}
}

func TestEmbedderWithoutModels(t *testing.T) {
	_, _, err := NewEmbedder(New("http://localhost:1", Options{})).EmbedText(context.Background(), "x")
	if err == nil {
		t.Fatalf("expected error without models")
	}
}
