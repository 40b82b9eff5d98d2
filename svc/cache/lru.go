package cache

import (
	"context"
	"errors"

	"pastebin/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU keeps the immutable content of recently read pastes keyed by hash.
// Entries are stored and returned by value so callers can set per-request
// fields such as the click count without touching the cache.
type LRU struct {
	c *lru.Cache[string, domain.Paste]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, domain.Paste](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}
func (l *LRU) Get(ctx context.Context, hash string) (domain.Paste, bool) {
	select {
	case <-ctx.Done():
		return domain.Paste{}, false
	default:
	}
	return l.c.Get(hash)
}
func (l *LRU) Set(p domain.Paste) {
	p.ClickCount = 0
	if p.CreationDate != nil {
		created := *p.CreationDate
		p.CreationDate = &created
	}
	l.c.Add(p.Hash, p)
}
func (l *LRU) Delete(hash string) {
	l.c.Remove(hash)
}
func (l *LRU) Len() int {
	return l.c.Len()
}
