// Package storage defines persistence interfaces for rolecast.
package storage

import (
	"context"

	rolecast "github.com/eugener/rolecast/internal"
)

// Vector is one indexed document with its embedding.
type Vector struct {
	ID        int64
	Index     string
	Document  string
	Meta      rolecast.SectionMeta
	Embedding []float32
}

// AuditStore persists answered chats.
type AuditStore interface {
	InsertAudit(ctx context.Context, records []rolecast.AuditRecord) error
	GetAudit(ctx context.Context, id string) (*rolecast.AuditRecord, error)
	ListAudit(ctx context.Context, book string, offset, limit int) ([]rolecast.AuditRecord, error)
}

// VectorStore persists embedding vectors grouped by index name.
type VectorStore interface {
	InsertVectors(ctx context.Context, index string, vectors []Vector) error
	ListVectors(ctx context.Context, index string) ([]Vector, error)
	CountVectors(ctx context.Context, index string) (int, error)
	DeleteIndex(ctx context.Context, index string) error
}

// Store combines all storage interfaces.
type Store interface {
	AuditStore
	VectorStore
	Ping(ctx context.Context) error
	Close() error
}
