/*
cache.go - TTL cache in front of a PolicyStore

PURPOSE:
  Policy lookups are read-mostly and historical windows never mutate once
  past their effective period, so (entity, pricing date) lookups are
  highly cacheable. PolicyCache is an explicit, injected component - not
  a process-wide global - with a defined TTL and invalidation on policy
  writes.

DESIGN:
  - Wraps any PolicyStore; callers depend on the interface either way
  - hashicorp/golang-lru expirable LRU bounds memory and ages entries out
  - Save() writes through and purges the cache: policy writes are rare
    (administrative), so dropping everything is cheaper than tracking
    which (entity, date) keys a changed window could answer
  - Absence is not cached; a missing override stays a store round-trip

SEE ALSO:
  - policy.go: PolicyStore interface
*/
package pricing

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// POLICY CACHE
// =============================================================================

type PolicyCache struct {
	inner PolicyStore
	lru   *expirable.LRU[string, PricingPolicy]
}

// Compile-time check that PolicyCache implements PolicyStore
var _ PolicyStore = (*PolicyCache)(nil)

// NewPolicyCache wraps a PolicyStore with an expiring LRU of up to size
// entries, each living at most ttl.
func NewPolicyCache(inner PolicyStore, size int, ttl time.Duration) *PolicyCache {
	return &PolicyCache{
		inner: inner,
		lru:   expirable.NewLRU[string, PricingPolicy](size, nil, ttl),
	}
}

func cacheKey(entity EntityRef, asOf Date) string {
	return entity.String() + "@" + asOf.String()
}

func (c *PolicyCache) ActiveAt(ctx context.Context, entity EntityRef, asOf Date) (*PricingPolicy, error) {
	key := cacheKey(entity, asOf)
	if p, ok := c.lru.Get(key); ok {
		cached := p
		return &cached, nil
	}

	p, err := c.inner.ActiveAt(ctx, entity, asOf)
	if err != nil || p == nil {
		return p, err
	}
	c.lru.Add(key, *p)
	return p, nil
}

// Save writes through and invalidates the whole cache.
func (c *PolicyCache) Save(ctx context.Context, policy PricingPolicy) error {
	if err := c.inner.Save(ctx, policy); err != nil {
		return err
	}
	c.lru.Purge()
	return nil
}

func (c *PolicyCache) ListByEntity(ctx context.Context, entity EntityRef) ([]PricingPolicy, error) {
	return c.inner.ListByEntity(ctx, entity)
}
