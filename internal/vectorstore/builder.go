package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/chunker"
	"github.com/eugener/rolecast/internal/storage"
)

// DefaultChunkTokens is the size of the text chunks indexed per plot.
const DefaultChunkTokens = 512

// Builder turns a book into an index.
type Builder struct {
	vectors     storage.VectorStore
	embedder    rolecast.Embedder
	chunks      *chunker.Chunker
	chunkTokens int
}

// NewBuilder creates a Builder. A non-positive chunkTokens uses
// DefaultChunkTokens.
func NewBuilder(vectors storage.VectorStore, embedder rolecast.Embedder, counter rolecast.TokenCounter, chunkTokens int) *Builder {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	return &Builder{
		vectors:     vectors,
		embedder:    embedder,
		chunks:      chunker.New(counter),
		chunkTokens: chunkTokens,
	}
}

// Documents lays out the documents of book. Every plot is one section with
// a sequential id starting at 1. Its text is indexed in chunks and each of
// its embedding lines is indexed on its own; all share the section
// metadata, whose summary is the embedding lines joined by newlines.
func (b *Builder) Documents(book *rolecast.Book) []storage.Vector {
	var (
		docs      []storage.Vector
		sectionID int
	)
	for _, ch := range book.Chapters {
		for _, plot := range ch.Plots {
			sectionID++
			meta := rolecast.SectionMeta{
				SectionID:    strconv.Itoa(sectionID),
				SectionTitle: ch.Title,
				Summary:      strings.Join(plot.Embeddings, "\n"),
				Text:         plot.Text,
			}
			for _, c := range b.chunks.Chunk(plot.Text, b.chunkTokens) {
				m := meta
				m.ChunkText = c
				docs = append(docs, storage.Vector{Document: c, Meta: m})
			}
			for _, line := range plot.Embeddings {
				m := meta
				m.ChunkText = line
				docs = append(docs, storage.Vector{Document: line, Meta: m})
			}
		}
	}
	return docs
}

// Build embeds and stores book under index. An index that already has
// vectors is left alone and Build reports 0.
func (b *Builder) Build(ctx context.Context, index string, book *rolecast.Book) (int, error) {
	n, err := b.vectors.CountVectors(ctx, index)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count %q: %w", index, err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "index exists, skipping build", "index", index, "vectors", n)
		return 0, nil
	}

	docs := b.Documents(book)
	if len(docs) == 0 {
		return 0, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Document
	}
	vecs, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}
	if err := b.vectors.InsertVectors(ctx, index, docs); err != nil {
		return 0, fmt.Errorf("vectorstore: store %q: %w", index, err)
	}
	slog.InfoContext(ctx, "index built", "index", index, "vectors", len(docs))
	return len(docs), nil
}

// LoadBook reads a book JSON file.
func LoadBook(path string) (*rolecast.Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	var book rolecast.Book
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("parse book %s: %w", path, err)
	}
	return &book, nil
}

// IndexName derives an index name from a book file path: the file name
// without its extension.
func IndexName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
