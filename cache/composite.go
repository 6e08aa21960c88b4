package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

type compositeCache struct {
	caches []Cache
}

var _ Cache = (*compositeCache)(nil)

// NewComposite chains caches into tiers. Get returns the first hit in order,
// Set and Expire apply to every tier. It panics without a cache.
func NewComposite(caches ...Cache) Cache {
	if len(caches) == 0 {
		panic("cache: NewComposite requires at least one cache")
	}
	return &compositeCache{caches: caches}
}

func (c *compositeCache) Get(ctx context.Context, key string) (bool, any, error) {
	for _, tier := range c.caches {
		found, val, err := tier.Get(ctx, key)
		if err != nil {
			return false, nil, err
		}
		if found {
			return true, val, nil
		}
	}
	return false, nil, nil
}

func (c *compositeCache) Set(ctx context.Context, key string, val any, expires time.Duration) error {
	var errs error
	for _, tier := range c.caches {
		errs = errors.CombineErrors(errs, tier.Set(ctx, key, val, expires))
	}
	return errs
}

func (c *compositeCache) Hits(ctx context.Context, key string) (bool, int) {
	for _, tier := range c.caches {
		if found, hits := tier.Hits(ctx, key); found {
			return true, hits
		}
	}
	return false, 0
}

func (c *compositeCache) Expire(ctx context.Context, key string) (bool, error) {
	anyFound := false
	for _, tier := range c.caches {
		found, err := tier.Expire(ctx, key)
		if err != nil {
			return anyFound, err
		}
		anyFound = anyFound || found
	}
	return anyFound, nil
}

func (c *compositeCache) Close() error {
	var errs error
	for _, tier := range c.caches {
		errs = errors.CombineErrors(errs, tier.Close())
	}
	return errs
}
