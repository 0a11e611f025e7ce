package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// SQLiteVectorIndex keeps embeddings as BLOBs in SQLite and scores
// similarity with cosine in process. It suits single-node setups
// where standing up Postgres is not worth it; the scan is linear over
// the collection.
type SQLiteVectorIndex struct {
	db       *DB
	embedder domain.EmbeddingClient
}

var _ domain.VectorIndex = (*SQLiteVectorIndex)(nil)

func NewSQLiteVectorIndex(db *DB, embedder domain.EmbeddingClient) *SQLiteVectorIndex {
	return &SQLiteVectorIndex{db: db, embedder: embedder}
}

// encodeEmbedding converts a []float32 to a binary BLOB, 4 bytes per
// value, little endian.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *SQLiteVectorIndex) Index(ctx context.Context, collection, itemID, text string, meta map[string]string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed %q: %w", itemID, err)
	}
	var metaJSON []byte
	if len(meta) > 0 {
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return err
		}
	}
	blob := encodeEmbedding(vec)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_items (collection, item_id, text, embedding, dimensions, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, item_id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			metadata = excluded.metadata`,
		collection, itemID, text, blob, len(vec), metaJSON, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("index %q: %w", itemID, err)
	}
	return nil
}

func (s *SQLiteVectorIndex) Similar(ctx context.Context, collection, text string, topK int, threshold float64) ([]domain.VectorMatch, error) {
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, text, embedding, metadata FROM vector_items WHERE collection = ?`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("scan collection %q: %w", collection, err)
	}
	defer rows.Close()

	var matches []domain.VectorMatch
	for rows.Next() {
		var itemID, itemText string
		var blob []byte
		var metaJSON []byte
		if err := rows.Scan(&itemID, &itemText, &blob, &metaJSON); err != nil {
			return nil, err
		}
		sim := cosineSimilarity(query, decodeEmbedding(blob))
		if sim < threshold {
			continue
		}
		m := domain.VectorMatch{ItemID: itemID, Text: itemText, Similarity: sim}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("metadata for %q: %w", itemID, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ItemID < matches[j].ItemID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *SQLiteVectorIndex) Remove(ctx context.Context, collection, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_items WHERE collection = ? AND item_id = ?`,
		collection, itemID)
	return err
}

func (s *SQLiteVectorIndex) Close() error {
	// The store shares the DB handle with the interaction log; the
	// owner closes it.
	return nil
}
