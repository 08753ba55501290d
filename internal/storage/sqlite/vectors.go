package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/eugener/rolecast/internal/storage"
)

// vectorBatch bounds the rows per INSERT statement.
const vectorBatch = 200

// InsertVectors appends vectors to index in a single transaction.
func (s *Store) InsertVectors(ctx context.Context, index string, vectors []storage.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for batch := range slices.Chunk(vectors, vectorBatch) {
		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*5)
		for i, v := range batch {
			meta, err := json.Marshal(v.Meta)
			if err != nil {
				return fmt.Errorf("encode meta: %w", err)
			}
			placeholders[i] = "(?, ?, ?, ?, ?)"
			args = append(args, index, v.Document, v.Meta.SectionID, string(meta), encodeEmbedding(v.Embedding))
		}
		query := `INSERT INTO vectors (index_name, document, section_id, meta, embedding) VALUES ` +
			strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListVectors returns every vector of index in insertion order.
func (s *Store) ListVectors(ctx context.Context, index string) ([]storage.Vector, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, document, meta, embedding FROM vectors WHERE index_name = ? ORDER BY id`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Vector
	for rows.Next() {
		v := storage.Vector{Index: index}
		var (
			meta string
			blob []byte
		)
		if err := rows.Scan(&v.ID, &v.Document, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &v.Meta); err != nil {
			return nil, fmt.Errorf("decode meta of vector %d: %w", v.ID, err)
		}
		v.Embedding = decodeEmbedding(blob)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVectors returns the number of vectors stored for index.
func (s *Store) CountVectors(ctx context.Context, index string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE index_name = ?`, index).Scan(&n)
	return n, err
}

// DeleteIndex removes every vector of index.
func (s *Store) DeleteIndex(ctx context.Context, index string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM vectors WHERE index_name = ?`, index)
	return err
}

// encodeEmbedding stores float32 components little-endian.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
