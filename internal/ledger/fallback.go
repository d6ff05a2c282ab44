package ledger

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"
)

// fallbackTTL bounds how long an unflushed record survives in memory. A
// durable store outage longer than this loses the affected upserts, which is
// the documented tradeoff of the in-memory fallback.
const fallbackTTL = time.Hour

// Fallback is the in-memory ledger used only while the durable store is
// unreachable. It is process-scoped injected state, not a package global.
type Fallback struct {
	c      *gocache.Cache
	logger *slog.Logger
}

// NewFallback creates an empty fallback ledger.
func NewFallback() *Fallback {
	return &Fallback{
		c:      gocache.New(fallbackTTL, 10*time.Minute),
		logger: slog.Default().With("component", "ledger-fallback"),
	}
}

// Store keeps a record in memory after a failed durable write.
func (f *Fallback) Store(rec *models.CallRecord) {
	f.c.Set(rec.ID, rec, gocache.DefaultExpiration)
}

// Get returns a buffered record, if any.
func (f *Fallback) Get(id string) (*models.CallRecord, bool) {
	v, ok := f.c.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*models.CallRecord), true
}

// Len reports the number of buffered records.
func (f *Fallback) Len() int {
	return f.c.ItemCount()
}

// Flush attempts to move every buffered record into the durable store,
// dropping each one that persists successfully. Called periodically once the
// store may have recovered.
func (f *Fallback) Flush(ctx context.Context, repo database.CallRecordRepository) {
	for id, item := range f.c.Items() {
		rec := item.Object.(*models.CallRecord)
		if err := repo.Put(ctx, rec); err != nil {
			// Store still down; try again next flush.
			return
		}
		f.c.Delete(id)
		f.logger.Info("flushed buffered call record", "call_id", rec.ID)
	}
}
