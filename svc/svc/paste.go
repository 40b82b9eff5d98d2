package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	clickTimeout      = 5 * time.Second
	drainTimeout      = 10 * time.Second
	defaultQueueScale = 100
)

var ErrShuttingDown = domain.ErrShuttingDown

// hashClicks tracks the increments scheduled on one hash. done is closed
// when n drops to zero.
type hashClicks struct {
	n    int
	done chan struct{}
}

// Store is the slice of the relational store the service needs.
type Store interface {
	CreatePaste(ctx context.Context, title, body string) (*domain.Paste, error)
	ListPastes(ctx context.Context) ([]domain.Paste, error)
	GetPaste(ctx context.Context, hash string) (*domain.Paste, error)
	ClickCount(ctx context.Context, hash string) (int, error)
	IncrementClickCount(ctx context.Context, hash string) (int64, error)
}

// Paste serves create, list and get-by-hash. Every get schedules one click
// increment that a worker applies after the response has been built.
type Paste struct {
	store Store
	lru   *cache.LRU
	rdb   *db.Redis
	cfg   *cfg.Cfg
	loads singleflight.Group

	clickQueue chan string
	queueMu    sync.RWMutex
	workerWg   sync.WaitGroup

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int
	pendingHash map[string]*hashClicks

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	shutdown    atomic.Bool
}

func NewPaste(store Store, lru *cache.LRU, rdb *db.Redis, c *cfg.Cfg) *Paste {
	if store == nil || lru == nil || c == nil {
		panic("paste service: nil dependency (store, lru or cfg)")
	}
	workers := c.WorkerPoolSize
	if workers <= 0 {
		workers = 4
	}
	queueSize := c.ClickQueueSize
	if queueSize < 0 {
		queueSize = workers * defaultQueueScale
	}
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	p := &Paste{
		store:       store,
		lru:         lru,
		rdb:         rdb,
		cfg:         c,
		clickQueue:  make(chan string, queueSize),
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
		pendingHash: make(map[string]*hashClicks),
	}
	p.pendingCond = sync.NewCond(&p.pendingMu)
	p.startWorkers(workers)
	return p
}
func (p *Paste) startWorkers(n int) {
	for i := 0; i < n; i++ {
		p.workerWg.Add(1)
		go p.clickWorker()
	}
}
func (p *Paste) clickWorker() {
	defer p.workerWg.Done()
	for hash := range p.clickQueue {
		metrics.ClickQueueDepth.Dec()
		p.applyClick(hash)
	}
}

// applyClick runs one increment on a context detached from the request that
// scheduled it. Failures are logged and never reach the reader.
func (p *Paste) applyClick(hash string) {
	defer p.donePending(hash)
	defer func() {
		if r := recover(); r != nil {
			metrics.ClickIncrements.WithLabelValues(metrics.ClickFailed).Inc()
			util.Error().Interface("panic", r).Str("hash", hash).Msg("click increment panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(p.shutdownCtx, clickTimeout)
	defer cancel()
	n, err := p.store.IncrementClickCount(ctx, hash)
	if err != nil {
		metrics.ClickIncrements.WithLabelValues(metrics.ClickFailed).Inc()
		util.Warn().Err(err).Str("hash", hash).Msg("failed to increment click count")
		return
	}
	if n == 0 {
		util.Debug().Str("hash", hash).Msg("click increment matched no rows")
	}
	metrics.ClickIncrements.WithLabelValues(metrics.ClickApplied).Inc()
}

// scheduleClick hands the increment to the worker pool. A full queue never
// drops it; the increment gets its own goroutine instead.
func (p *Paste) scheduleClick(hash string) {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()
	if p.shutdown.Load() {
		metrics.ClickIncrements.WithLabelValues(metrics.ClickFailed).Inc()
		util.Warn().Str("hash", hash).Msg("click increment after shutdown, skipped")
		return
	}
	p.addPending(hash)
	select {
	case p.clickQueue <- hash:
		metrics.ClickQueueDepth.Inc()
	default:
		metrics.ClickIncrements.WithLabelValues(metrics.ClickOverflow).Inc()
		go p.applyClick(hash)
	}
}
func (p *Paste) addPending(hash string) {
	p.pendingMu.Lock()
	p.pending++
	hc, ok := p.pendingHash[hash]
	if !ok {
		hc = &hashClicks{done: make(chan struct{})}
		p.pendingHash[hash] = hc
	}
	hc.n++
	p.pendingMu.Unlock()
}
func (p *Paste) donePending(hash string) {
	p.pendingMu.Lock()
	p.pending--
	if hc, ok := p.pendingHash[hash]; ok {
		if hc.n--; hc.n <= 0 {
			delete(p.pendingHash, hash)
			close(hc.done)
		}
	}
	if p.pending == 0 {
		p.pendingCond.Broadcast()
	}
	p.pendingMu.Unlock()
}

// awaitClicks waits for the increments already scheduled on hash so that a
// read observes every earlier read. It gives up when ctx is done.
func (p *Paste) awaitClicks(ctx context.Context, hash string) error {
	p.pendingMu.Lock()
	hc, ok := p.pendingHash[hash]
	p.pendingMu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-hc.done:
		return nil
	case <-ctx.Done():
		return domain.Storage("await click increments", ctx.Err())
	}
}

// Flush blocks until every click increment scheduled so far has been
// applied or has failed.
func (p *Paste) Flush() {
	p.pendingMu.Lock()
	for p.pending > 0 {
		p.pendingCond.Wait()
	}
	p.pendingMu.Unlock()
}

// Shutdown stops accepting increments, waits for the queued ones and then
// cancels whatever is still running.
func (p *Paste) Shutdown() {
	p.queueMu.Lock()
	if p.shutdown.Swap(true) {
		p.queueMu.Unlock()
		return
	}
	close(p.clickQueue)
	p.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		p.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		util.Warn().Msg("click workers didn't drain in time")
	}
	p.shutdownFn()
	util.Debug().Msg("paste service shutdown complete")
}

// Create stores a new paste. The returned record has no body and a zero
// click count.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	paste, err := p.store.CreatePaste(ctx, params.Title, params.Body)
	if err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	metrics.PasteCreated.Inc()
	util.Debug().
		Str("hash", paste.Hash).
		Str("preview", util.RedactPasteContent(params.Body)).
		Msg("paste created")
	return paste, nil
}

// List returns every paste in creation order without bodies.
func (p *Paste) List(ctx context.Context) ([]domain.Paste, error) {
	pastes, err := p.store.ListPastes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	metrics.PasteListed.Inc()
	return pastes, nil
}

// Get returns the paste stored under hash with the click count as it was
// before this read, then schedules the increment.
func (p *Paste) Get(ctx context.Context, hash string) (*domain.Paste, error) {
	if err := p.awaitClicks(ctx, hash); err != nil {
		return nil, err
	}
	paste, fresh, err := p.content(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !fresh {
		count, err := p.store.ClickCount(ctx, hash)
		if err != nil {
			if errors.Is(err, domain.ErrPasteNotFound) {
				p.lru.Delete(hash)
				return nil, domain.ErrPasteNotFound
			}
			return nil, errors.Wrap(err, "click count")
		}
		paste.ClickCount = count
	}
	p.scheduleClick(hash)
	metrics.PasteRetrieved.Inc()
	return &paste, nil
}

// content returns title, body and creation date from the LRU, then Redis,
// then the store. fresh reports that the click count came from the store
// in the same read.
func (p *Paste) content(ctx context.Context, hash string) (domain.Paste, bool, error) {
	if paste, ok := p.lru.Get(ctx, hash); ok {
		metrics.CacheHits.WithLabelValues(metrics.TierLRU).Inc()
		return paste, false, nil
	}
	if p.rdb != nil {
		paste, err := p.rdb.GetPaste(ctx, hash)
		if err != nil {
			util.Warn().Err(err).Str("hash", hash).Msg("redis lookup failed")
		} else if paste != nil {
			metrics.CacheHits.WithLabelValues(metrics.TierRedis).Inc()
			p.lru.Set(*paste)
			return *paste, false, nil
		}
	}
	metrics.CacheMisses.Inc()
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := p.loads.Do(hash, func() (interface{}, error) {
		paste, err := p.store.GetPaste(loadCtx, hash)
		if err != nil {
			return nil, err
		}
		p.lru.Set(*paste)
		if p.rdb != nil {
			if err := p.rdb.CachePaste(loadCtx, paste); err != nil {
				util.Warn().Err(err).Str("hash", hash).Msg("failed to cache in Redis")
			}
		}
		return *paste, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return domain.Paste{}, false, domain.ErrPasteNotFound
		}
		return domain.Paste{}, false, errors.Wrap(err, "get paste")
	}
	return v.(domain.Paste), true, nil
}
