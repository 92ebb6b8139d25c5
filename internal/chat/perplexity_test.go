package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ashureev/cypherguy/internal/domain"
)

func TestPerplexityClassifier_TriesModelsInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		models []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()

		switch req.Model {
		case "first":
			w.WriteHeader(http.StatusBadRequest)
		case "second":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "Sure thing"}}},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": " RWA tokenization"}}},
			})
		}
	}))
	defer srv.Close()

	p := NewPerplexityClassifier("key")
	p.URL = srv.URL
	p.Models = []string{"first", "second", "third"}

	got, err := p.Classify(context.Background(), "I own a house")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got != domain.CategoryRWA {
		t.Errorf("Expected rwa, got %s", got)
	}
	if len(models) != 3 || models[0] != "first" || models[2] != "third" {
		t.Errorf("Expected models tried in order, got %v", models)
	}
}

func TestPerplexityClassifier_NoIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPerplexityClassifier("key")
	p.URL = srv.URL

	if _, err := p.Classify(context.Background(), "hello"); !errors.Is(err, ErrNoIntent) {
		t.Errorf("Expected ErrNoIntent, got %v", err)
	}
}
