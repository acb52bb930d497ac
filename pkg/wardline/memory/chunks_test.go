package memory

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// fakeEmbedder returns fixed three-dimensional vectors keyed by text.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVectorRoundtrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("length: got %d want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("element %d: got %v want %v", i, got[i], vec[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestRememberAndRetrieve(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"likes gardening":      {1, 0, 0},
		"takes pills at night": {0, 1, 0},
		"gardening query":      {0.9, 0.1, 0},
	}}
	cs, err := NewChunkStore(testDB(t), emb, nil)
	if err != nil {
		t.Fatalf("NewChunkStore failed: %v", err)
	}
	ctx := context.Background()

	if err := cs.Remember(ctx, "contact-1", "likes gardening", 0.8); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if err := cs.Remember(ctx, "contact-1", "takes pills at night", 0.8); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	got, err := cs.Retrieve(ctx, "contact-1", "gardening query", 5, 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Text != "likes gardening" {
		t.Errorf("best match: got %q", got[0].Text)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v %v", got[0].Score, got[1].Score)
	}
}

func TestRetrieveImportanceFloor(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"trivial":  {1, 0, 0},
		"critical": {1, 0, 0},
		"q":        {1, 0, 0},
	}}
	cs, err := NewChunkStore(testDB(t), emb, nil)
	if err != nil {
		t.Fatalf("NewChunkStore failed: %v", err)
	}
	ctx := context.Background()

	if err := cs.Remember(ctx, "contact-1", "trivial", 0.1); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if err := cs.Remember(ctx, "contact-1", "critical", 0.9); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	got, err := cs.Retrieve(ctx, "contact-1", "q", 5, 0.5)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "critical" {
		t.Errorf("importance floor ignored: %v", got)
	}
}

func TestRetrieveTopK(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	cs, err := NewChunkStore(testDB(t), emb, nil)
	if err != nil {
		t.Fatalf("NewChunkStore failed: %v", err)
	}
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		if err := cs.Remember(ctx, "contact-1", text, 0.5); err != nil {
			t.Fatalf("Remember failed: %v", err)
		}
	}

	got, err := cs.Retrieve(ctx, "contact-1", "query", 2, 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("topK ignored: got %d chunks", len(got))
	}
}

func TestRetrieveDisabledEmbedder(t *testing.T) {
	cs, err := NewChunkStore(testDB(t), &NullEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewChunkStore failed: %v", err)
	}

	got, err := cs.Retrieve(context.Background(), "contact-1", "query", 5, 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil with embeddings disabled, got %v", got)
	}
}

func TestRememberIsolatesContacts(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	cs, err := NewChunkStore(testDB(t), emb, nil)
	if err != nil {
		t.Fatalf("NewChunkStore failed: %v", err)
	}
	ctx := context.Background()

	if err := cs.Remember(ctx, "contact-1", "private fact", 0.5); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	got, err := cs.Retrieve(ctx, "contact-2", "query", 5, 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("chunks leaked across contacts: %v", got)
	}
}
