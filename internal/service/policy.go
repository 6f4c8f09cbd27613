package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/config"
	apperrors "github.com/studyforge/gateway/internal/errors"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/repository"
)

// PolicyCache serves the security policy from memory and re-reads the store
// once the snapshot is older than ttl.
type PolicyCache struct {
	store repository.PolicyRepository
	clock clock.Clock
	ttl   time.Duration

	loads singleflight.Group

	mu         sync.Mutex
	snapshot   model.PolicySnapshot
	fetchedAt  time.Time
	valid      bool
	generation uint64
}

const policyLoadKey = "policy"

var _ PolicyReader = (*PolicyCache)(nil)

func NewPolicyCache(store repository.PolicyRepository, clk clock.Clock, ttl time.Duration) *PolicyCache {
	return &PolicyCache{
		store:    store,
		clock:    clk,
		ttl:      ttl,
		snapshot: model.DefaultPolicy(),
	}
}

func fresh(now, fetchedAt time.Time, ttl time.Duration) bool {
	age := now.Sub(fetchedAt)
	return age >= 0 && age < ttl
}

// Get returns the current snapshot. If the store cannot be read, the last
// known snapshot (or the defaults) is returned together with the error.
// Concurrent misses share a single store read.
func (c *PolicyCache) Get(ctx context.Context) (model.PolicySnapshot, error) {
	c.mu.Lock()
	if c.valid && fresh(c.clock.Now(), c.fetchedAt, c.ttl) {
		snapshot := c.snapshot
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	v, err, _ := c.loads.Do(policyLoadKey, func() (any, error) {
		return c.load(ctx)
	})
	return v.(model.PolicySnapshot), err
}

// load reads the store without holding mu. A result read before an Update
// or Invalidate is returned to its callers but not cached.
func (c *PolicyCache) load(ctx context.Context) (model.PolicySnapshot, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	now := c.clock.Now()

	// The read is shared, so one caller going away must not fail the rest.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.PolicyLoadTimeout)
	defer cancel()

	row, err := c.store.Load(loadCtx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.snapshot, apperrors.Database(err)
	}

	snapshot := model.DefaultPolicy()
	if row != nil {
		merged, err := model.MergePolicy(snapshot, row.Settings)
		if err != nil {
			log.Error().Err(err).Msg("stored security policy is malformed, using defaults")
		} else {
			snapshot = merged
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return snapshot, nil
	}
	c.snapshot = snapshot
	c.fetchedAt = now
	c.valid = true
	return snapshot, nil
}

// Update overlays partial onto the current policy, persists the result and
// refreshes the cache.
func (c *PolicyCache) Update(ctx context.Context, partial json.RawMessage) (model.PolicySnapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(partial, &fields); err != nil || fields == nil {
		return model.PolicySnapshot{}, apperrors.InvalidInput("policy", "must be a JSON object")
	}

	current, err := c.Get(ctx)
	if err != nil {
		return model.PolicySnapshot{}, err
	}

	merged, err := model.MergePolicy(current, partial)
	if err != nil {
		return model.PolicySnapshot{}, apperrors.InvalidInput("policy", err.Error())
	}
	if err := merged.Validate(); err != nil {
		return model.PolicySnapshot{}, apperrors.ValidationError(err.Error())
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return model.PolicySnapshot{}, apperrors.Internal("Failed to encode policy").WithCause(err)
	}
	if _, err := c.store.Save(ctx, data); err != nil {
		return model.PolicySnapshot{}, apperrors.Database(err)
	}

	c.mu.Lock()
	c.generation++
	c.snapshot = merged
	c.fetchedAt = c.clock.Now()
	c.valid = true
	c.mu.Unlock()

	return merged, nil
}

// Invalidate forces the next Get to read the store.
func (c *PolicyCache) Invalidate() {
	c.mu.Lock()
	c.generation++
	c.valid = false
	c.mu.Unlock()
}
