package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

func testChunk() domain.DocumentChunk {
	return domain.DocumentChunk{
		ID:         "6f1c2f5e-0000-5000-8000-000000000001",
		Topic:      "Anger",
		SourceFile: "book.txt",
		Evidence: []domain.Evidence{
			{Quote: "Restrain anger and pardon people", Reference: "Quran 3:134", Category: domain.CategoryScripture},
			{Quote: "Do not become angry, do not", Reference: "Bukhari 6116", Category: domain.CategoryTradition},
		},
	}
}

func TestUpsertEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var mu sync.Mutex
	var upserted []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/collections/evidence_") && !strings.HasSuffix(r.URL.Path, "/points"):
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/evidence_2/points":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			upserted = append(upserted, body)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	emb := domain.Embedding{Vector: []float32{0.1, 0.2}, Model: "nomic"}
	for i := 0; i < 2; i++ {
		if err := client.Upsert(context.Background(), testChunk(), emb); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
	if len(upserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(upserted))
	}
	point := upserted[0]["points"].([]any)[0].(map[string]any)
	if point["id"] != pointID(testChunk().ID, "nomic") {
		t.Fatalf("unexpected point id %v", point["id"])
	}
	payload := point["payload"].(map[string]any)
	if payload["embedding_model"] != "nomic" || payload["topic_key"] != "anger" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if cats := payload["categories"].([]any); len(cats) != 2 {
		t.Fatalf("expected two categories, got %v", cats)
	}
}

func TestEnsureCollectionTreatsConflictAsExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/evidence_2" {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	if err := client.Upsert(context.Background(), testChunk(), domain.Embedding{Vector: []float32{1, 0}, Model: "m"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	err := client.Upsert(context.Background(), testChunk(), domain.Embedding{Vector: []float32{1, 0}, Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestUpsertRejectsEmptyVector(t *testing.T) {
	client := New("http://127.0.0.1:0", "evidence", Options{})
	err := client.Upsert(context.Background(), testChunk(), domain.Embedding{Model: "m"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSearchSendsModelFilterAndThreshold(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/evidence_3/points/search" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"result":[{"score":0.82,"payload":{"chunk":{"id":"c1","topic":"Anger","source_file":"book.txt","chunk_index":0}}}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	results, err := client.Search(context.Background(),
		domain.Embedding{Vector: []float32{1, 0, 0}, Model: "nomic"}, 4, 0.3,
		domain.SearchFilter{Topic: " ANGER ", Category: domain.CategoryScripture})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c1" || results[0].Similarity != 0.82 {
		t.Fatalf("unexpected results %+v", results)
	}
	if got["score_threshold"] != 0.3 || got["limit"] != float64(4) {
		t.Fatalf("unexpected request %v", got)
	}
	must := got["filter"].(map[string]any)["must"].([]any)
	if len(must) != 3 {
		t.Fatalf("expected model, topic and category conditions, got %v", must)
	}
	first := must[0].(map[string]any)
	if first["key"] != "embedding_model" || first["match"].(map[string]any)["value"] != "nomic" {
		t.Fatalf("expected model filter first, got %v", first)
	}
	topic := must[1].(map[string]any)
	if topic["match"].(map[string]any)["value"] != "anger" {
		t.Fatalf("expected normalized topic, got %v", topic)
	}
}

func TestSearchMissingCollectionIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	results, err := client.Search(context.Background(), domain.Embedding{Vector: []float32{1, 0}, Model: "m"}, 5, 0.3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSearchServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	_, err := client.Search(context.Background(), domain.Embedding{Vector: []float32{1, 0}, Model: "m"}, 5, 0.3, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestPruneSourceVisitsPrefixedCollections(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			_, _ = w.Write([]byte(`{"result":{"collections":[{"name":"evidence_768"},{"name":"evidence_1536"},{"name":"other_768"}]}}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/points/delete"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			filter := body["filter"].(map[string]any)
			must := filter["must"].([]any)[0].(map[string]any)
			if must["match"].(map[string]any)["value"] != "book.txt" {
				http.Error(w, "bad filter", http.StatusBadRequest)
				return
			}
			mustNot := filter["must_not"].([]any)[0].(map[string]any)
			if mustNot["key"] != "chunk_id" || len(mustNot["match"].(map[string]any)["any"].([]any)) != 1 {
				http.Error(w, "bad keep filter", http.StatusBadRequest)
				return
			}
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "evidence", Options{})
	if err := client.PruneSource(context.Background(), "book.txt", []string{"c1"}); err != nil {
		t.Fatalf("PruneSource() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 prefixed collections cleaned, got %v", deleted)
	}
}

func TestPointIDSeparatesModelsOfOneChunk(t *testing.T) {
	id := testChunk().ID
	model, fallback := pointID(id, "nomic"), pointID(id, "hashed-v1")
	if model == fallback {
		t.Fatalf("model and fallback vectors must not share point %s", model)
	}
	if pointID(id, "nomic") != model {
		t.Fatal("point id must be stable across calls")
	}
}
