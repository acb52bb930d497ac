package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ChunkStore persists remembered conversation fragments per contact and
// retrieves the ones most similar to a query utterance. Shares the main
// SQLite handle; embeddings live in a BLOB column and similarity is
// computed in process.
type ChunkStore struct {
	db       *sql.DB
	embedder EmbeddingProvider
	logger   *slog.Logger
}

// Chunk is one remembered fragment.
type Chunk struct {
	ID         string
	ContactID  string
	Text       string
	Importance float64
	CreatedAt  time.Time
}

// RetrievedChunk is a chunk with its similarity score against the query.
type RetrievedChunk struct {
	Chunk
	Score float64
}

// NewChunkStore creates the chunk store and its schema.
func NewChunkStore(db *sql.DB, embedder EmbeddingProvider, logger *slog.Logger) (*ChunkStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ChunkStore{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("memory: init schema: %w", err)
	}
	return s, nil
}

func (s *ChunkStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_chunks (
			id          TEXT PRIMARY KEY,
			contact_id  TEXT NOT NULL,
			text        TEXT NOT NULL,
			importance  REAL NOT NULL DEFAULT 0.5,
			embedding   BLOB,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memory_chunks_contact
			ON memory_chunks(contact_id);
	`)
	return err
}

// Remember stores one fragment with its embedding. When the embedder is
// null the fragment is stored without a vector and will not be retrievable
// by similarity, which keeps historical data intact if embeddings are
// enabled later.
func (s *ChunkStore) Remember(ctx context.Context, contactID, text string, importance float64) error {
	if text == "" {
		return nil
	}
	if importance <= 0 {
		importance = 0.5
	}

	var blob []byte
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		s.logger.Warn("embedding failed, storing chunk without vector", "error", err)
	} else if len(vecs) > 0 && len(vecs[0]) > 0 {
		blob = encodeVector(vecs[0])
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_chunks (id, contact_id, text, importance, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), contactID, text, importance, blob,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory: insert chunk: %w", err)
	}
	return nil
}

// Retrieve returns at most topK chunks for the contact ranked by cosine
// similarity to the query, keeping only chunks at or above the importance
// floor. Returns nil when embeddings are disabled.
func (s *ChunkStore) Retrieve(ctx context.Context, contactID, query string, topK int, minImportance float64) ([]RetrievedChunk, error) {
	if s.embedder.Name() == "none" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, nil
	}
	queryVec := vecs[0]

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, text, importance, embedding, created_at
		FROM memory_chunks
		WHERE contact_id = ? AND importance >= ? AND embedding IS NOT NULL`,
		contactID, minImportance)
	if err != nil {
		return nil, fmt.Errorf("memory: query chunks: %w", err)
	}
	defer rows.Close()

	var candidates []RetrievedChunk
	for rows.Next() {
		var (
			c         Chunk
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.ContactID, &c.Text, &c.Importance, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("memory: scan chunk: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		sim := cosineSimilarity(queryVec, decodeVector(blob))
		if sim > 0 {
			candidates = append(candidates, RetrievedChunk{Chunk: c, Score: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate chunks: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// ---------- Vector Encoding ----------

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 vector.
func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
