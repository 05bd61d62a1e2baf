package protein

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedProvider keeps recently resolved proteins in memory in front of a
// slower provider such as the sqlite repository.
type CachedProvider struct {
	next  SequenceProvider
	cache *gocache.Cache
}

// NewCachedProvider wraps next with a cache of the given TTL.
func NewCachedProvider(next SequenceProvider, ttl, cleanupInterval time.Duration) *CachedProvider {
	return &CachedProvider{
		next:  next,
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *CachedProvider) Protein(ctx context.Context, accession string) (*Protein, error) {
	if val, found := c.cache.Get(accession); found {
		return val.(*Protein), nil
	}

	p, err := c.next.Protein(ctx, accession)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(accession, p)
	return p, nil
}

func (c *CachedProvider) IsDecoy(accession string) bool {
	if val, found := c.cache.Get(accession); found {
		return val.(*Protein).Decoy
	}
	return c.next.IsDecoy(accession)
}

// Len returns the number of cached proteins.
func (c *CachedProvider) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached protein.
func (c *CachedProvider) Flush() {
	c.cache.Flush()
}
