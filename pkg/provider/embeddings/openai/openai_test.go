package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}

	p, err := New("sk-test", "",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want default %q", p.ModelID(), DefaultModel)
	}
}

func TestDimensionsPerModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536}, // unknown models get the common default
	}
	for _, tt := range tests {
		p := &Provider{model: tt.model}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%s) = %d, want %d", tt.model, got, tt.want)
		}
		if got := p.ModelID(); got != tt.model {
			t.Errorf("ModelID() = %q, want %q", got, tt.model)
		}
	}
}

func TestDimensionsOverride(t *testing.T) {
	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want the 256 override", got)
	}
}

// fakeEmbeddingsServer answers the OpenAI embeddings endpoint with a fixed
// vector per input, recording how many inputs the last request carried.
func fakeEmbeddingsServer(t *testing.T, lastInputs *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input any    `json:"input"`
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		inputs := 1
		if arr, ok := req.Input.([]any); ok {
			inputs = len(arr)
		}
		*lastInputs = inputs

		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		resp := struct {
			Object string  `json:"object"`
			Data   []datum `json:"data"`
			Model  string  `json:"model"`
		}{Object: "list", Model: req.Model}
		for i := 0; i < inputs; i++ {
			resp.Data = append(resp.Data, datum{
				Object:    "embedding",
				Index:     i,
				Embedding: []float64{float64(i), 0.5, -0.25},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbed(t *testing.T) {
	var lastInputs int
	srv := fakeEmbeddingsServer(t, &lastInputs)
	defer srv.Close()

	p, err := New("sk-test", "text-embedding-3-small", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "the user prefers tea over coffee")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0, 0.5, -0.25}
	if len(vec) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
	if lastInputs != 1 {
		t.Errorf("server saw %d inputs, want 1", lastInputs)
	}
}

func TestEmbedBatch(t *testing.T) {
	var lastInputs int
	srv := fakeEmbeddingsServer(t, &lastInputs)
	defer srv.Close()

	p, err := New("sk-test", "text-embedding-3-small", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{"lives in Berlin", "has two cats", "works as a nurse"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	// The server indexes vectors by position; verify ordering survived.
	for i, vec := range vecs {
		if len(vec) == 0 || vec[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, vec)
		}
	}
	if lastInputs != len(texts) {
		t.Errorf("server saw %d inputs, want %d", lastInputs, len(texts))
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", vecs)
	}
}
