package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/telemetry"
)

const (
	auditChanSize   = 1000
	auditBatchSize  = 100
	auditFlushEvery = 5 * time.Second
	auditDrainTime  = 30 * time.Second
)

// AuditStore is the persistence interface consumed by AuditRecorder.
type AuditStore interface {
	InsertAudit(ctx context.Context, records []rolecast.AuditRecord) error
}

// AuditRecorder buffers audit records and batch-flushes them to the store.
// Records are dropped when the buffer is full.
type AuditRecorder struct {
	ch         chan rolecast.AuditRecord
	store      AuditStore
	lastPath   string
	flushEvery time.Duration
	metrics    *telemetry.Metrics
}

// NewAuditRecorder creates an AuditRecorder backed by store. When lastPath
// is set, the newest record of every flush is also written there as JSON.
func NewAuditRecorder(store AuditStore, lastPath string, m *telemetry.Metrics) *AuditRecorder {
	return &AuditRecorder{
		ch:         make(chan rolecast.AuditRecord, auditChanSize),
		store:      store,
		lastPath:   lastPath,
		flushEvery: auditFlushEvery,
		metrics:    m,
	}
}

// Name returns the worker identifier.
func (a *AuditRecorder) Name() string { return "audit_recorder" }

// Record enqueues a record without blocking.
func (a *AuditRecorder) Record(r rolecast.AuditRecord) {
	select {
	case a.ch <- r:
		a.gauge()
	default:
		slog.Warn("audit record dropped, channel full", "id", r.ID)
	}
}

func (a *AuditRecorder) gauge() {
	if a.metrics != nil {
		a.metrics.AuditQueueLength.Set(float64(len(a.ch)))
	}
}

// Run processes records until ctx is cancelled, then drains what is left.
func (a *AuditRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.flushEvery)
	defer ticker.Stop()

	buf := make([]rolecast.AuditRecord, 0, auditBatchSize)
	for {
		select {
		case r := <-a.ch:
			buf = append(buf, r)
			if len(buf) >= auditBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			a.drain(buf)
			return nil
		}
	}
}

func (a *AuditRecorder) drain(buf []rolecast.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), auditDrainTime)
	defer cancel()

	for {
		select {
		case r := <-a.ch:
			buf = append(buf, r)
			if len(buf) >= auditBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				a.flush(ctx, buf)
			}
			return
		}
	}
}

func (a *AuditRecorder) flush(ctx context.Context, buf []rolecast.AuditRecord) {
	batch := make([]rolecast.AuditRecord, len(buf))
	copy(batch, buf)
	a.gauge()

	if err := a.store.InsertAudit(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "audit flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if a.lastPath != "" {
		a.writeLast(ctx, batch[len(batch)-1])
	}
}

func (a *AuditRecorder) writeLast(ctx context.Context, r rolecast.AuditRecord) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err == nil {
		err = os.WriteFile(a.lastPath, data, 0o644)
	}
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "write last audit record failed",
			slog.String("path", a.lastPath),
			slog.String("error", err.Error()),
		)
	}
}
