// Package predict caches pre-computed patch lists for interactions that have not happened
// yet.
//
// Records are keyed by trigger key; a newer record for the same key supersedes the old
// one. Consume removes a record as it is read so a prediction is applied optimistically
// at most once. Eviction is bounded by count (least recently stored goes first) and by
// age.
package predict

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

// Record is one cached prediction.
type Record struct {
	ID          types.PredictionID `json:"predictionId"`
	ComponentID types.ComponentID  `json:"componentId"`
	Key         TriggerKey         `json:"triggerKey"`
	Patches     []vdom.Patch       `json:"patches"`
	Confidence  float64            `json:"confidence"`
	CreatedAt   time.Time          `json:"createdAt"`
	// BaseHash is vdom.Hash of the tree the patches were computed against.
	BaseHash string `json:"baseHash"`
}

// Config bounds the cache.
type Config struct {
	MaxEntries    int
	MaxAge        time.Duration
	MinConfidence float64
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    256,
		MaxAge:        5 * time.Minute,
		MinConfidence: 0.5,
	}
}

// Cache holds prediction records. Safe for concurrent use.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex // pairs read with remove in Consume and Invalidate
	lru *expirable.LRU[TriggerKey, Record]
}

// New creates a cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{cfg: cfg, logger: logger}
	c.lru = expirable.NewLRU[TriggerKey, Record](cfg.MaxEntries, func(key TriggerKey, _ Record) {
		c.logger.Debug("prediction evicted", "trigger_key", key)
	}, cfg.MaxAge)
	return c
}

// Store caches rec unless its confidence is below MinConfidence, replacing any record
// under the same key. It reports whether the record was kept.
func (c *Cache) Store(rec Record) bool {
	if rec.Confidence < c.cfg.MinConfidence {
		c.logger.Debug("prediction below confidence threshold",
			"trigger_key", rec.Key, "confidence", rec.Confidence, "min_confidence", c.cfg.MinConfidence)
		return false
	}
	if rec.ID == "" {
		rec.ID = types.NewPredictionID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ComponentID == "" {
		rec.ComponentID = rec.Key.ComponentID()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(rec.Key, rec)
	return true
}

// Precompute renders anticipated, diffs it against baseline, and stores the result.
func (c *Cache) Precompute(key TriggerKey, anticipated component.State, render component.RenderFunc, baseline vdom.Node, confidence float64) (Record, bool, error) {
	if render == nil {
		return Record{}, false, fmt.Errorf("render cannot be nil")
	}
	next := render(anticipated)
	if err := vdom.Validate(next); err != nil {
		return Record{}, false, fmt.Errorf("precompute %s: %w", key, err)
	}
	rec := Record{
		ID:          types.NewPredictionID(),
		ComponentID: key.ComponentID(),
		Key:         key,
		Patches:     vdom.Diff(baseline, next),
		Confidence:  confidence,
		CreatedAt:   time.Now(),
		BaseHash:    vdom.Hash(baseline),
	}
	return rec, c.Store(rec), nil
}

// Lookup returns the record for key without consuming it.
func (c *Cache) Lookup(key TriggerKey) (Record, bool) {
	return c.lru.Peek(key)
}

// Consume returns and removes the record for key.
func (c *Cache) Consume(key TriggerKey) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.lru.Peek(key)
	if ok {
		c.lru.Remove(key)
	}
	return rec, ok
}

// Invalidate drops every record belonging to componentID and returns how many it dropped.
func (c *Cache) Invalidate(componentID types.ComponentID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.lru.Keys() {
		if rec, ok := c.lru.Peek(key); ok && rec.ComponentID == componentID {
			c.lru.Remove(key)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("predictions invalidated", "component_id", componentID, "count", n)
	}
	return n
}

// Len returns the number of live records.
func (c *Cache) Len() int {
	return c.lru.Len()
}
