package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/kiranshivaraju/captioner/pkg/models"
)

// Fingerprint identifies an image by its raw bytes. Filenames and request
// metadata play no part, so identical uploads share a cache entry.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PredictionCache stores model outputs by image fingerprint. It never
// fails a caller: backend errors and unreadable entries count as misses.
type PredictionCache struct {
	cache Cache
	ttl   time.Duration
}

func NewPredictionCache(c Cache, ttl time.Duration) *PredictionCache {
	return &PredictionCache{cache: c, ttl: ttl}
}

// Lookup returns the cached prediction for fingerprint, if present and unexpired.
func (p *PredictionCache) Lookup(ctx context.Context, fingerprint string) (*models.Prediction, bool) {
	raw, found, err := p.cache.Get(ctx, PredictionKey(fingerprint))
	if err != nil {
		slog.Warn("prediction cache lookup failed", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var pred models.Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		slog.Warn("discarding unreadable prediction", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	return &pred, true
}

// Store overwrites the entry for fingerprint. A non-positive ttl uses the
// cache's default.
func (p *PredictionCache) Store(ctx context.Context, fingerprint string, pred *models.Prediction, ttl time.Duration) {
	if ttl <= 0 {
		ttl = p.ttl
	}
	raw, err := json.Marshal(pred)
	if err != nil {
		slog.Warn("encode prediction", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := p.cache.Set(ctx, PredictionKey(fingerprint), raw, ttl); err != nil {
		slog.Warn("prediction cache store failed", "fingerprint", fingerprint, "error", err)
	}
}
