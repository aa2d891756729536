// Package embedding wraps one or more embedding providers behind a single
// client with batching, retries and provider failover.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/docground/internal/core"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config tunes batching and the retry policy.
type Config struct {
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Timeout bounds each provider call.
	Timeout    time.Duration
	RatePerSec float64
	// Concurrency is the number of batches in flight for one document.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// RetryAfterError is implemented by provider errors that carry a server hint.
type RetryAfterError interface {
	RetryAfter() time.Duration
}

// Adapter embeds texts with the highest-priority provider still available.
// Once a provider exhausts its retries, later calls start at the next one.
type Adapter struct {
	providers []core.EmbeddingProvider
	cfg       Config
	limiter   *rate.Limiter
	active    atomic.Int32

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter takes providers in priority order.
func NewAdapter(cfg Config, providers ...core.EmbeddingProvider) (*Adapter, error) {
	if len(providers) == 0 {
		return nil, errors.New("embedding: at least one provider is required")
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("embedding: duplicate provider %q", p.Name())
		}
		seen[p.Name()] = true
	}

	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &Adapter{
		providers: providers,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Concurrency),
		sleep:     sleepCtx,
	}, nil
}

// Providers lists configured provider names in priority order.
func (a *Adapter) Providers() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// HasProvider reports whether vectors from the named provider can be queried.
func (a *Adapter) HasProvider(name string) bool {
	return a.provider(name) != nil
}

// Active returns the provider new documents are embedded with.
func (a *Adapter) Active() string {
	return a.providers[a.active.Load()].Name()
}

// EmbedDocument embeds all texts of one document with a single provider and
// returns that provider's name. If a provider stays unavailable the whole set
// is embedded again from the start with the next one, so vectors of one
// document never come from two providers.
func (a *Adapter) EmbedDocument(ctx context.Context, texts []string) (string, [][]float32, error) {
	if len(texts) == 0 {
		return "", nil, fmt.Errorf("%w: nothing to embed", core.ErrInvalidInput)
	}

	for i := int(a.active.Load()); i < len(a.providers); i++ {
		p := a.providers[i]

		vecs, err := a.embedAll(ctx, p, texts)
		if err == nil {
			return p.Name(), vecs, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		if errors.Is(err, core.ErrEmbeddingQuotaExceeded) {
			return "", nil, err
		}

		log.Printf("Embedding: provider %s unavailable: %v", p.Name(), err)
		if i+1 < len(a.providers) {
			if a.active.CompareAndSwap(int32(i), int32(i+1)) {
				log.Printf("Embedding: failing over from %s to %s", p.Name(), a.providers[i+1].Name())
			}
		}
	}

	return "", nil, fmt.Errorf("%w: all %d providers exhausted", core.ErrEmbeddingServiceUnavailable, len(a.providers))
}

// EmbedQuery embeds a query with the named provider only, so it lands in the
// same vector space as the documents it is compared against.
func (a *Adapter) EmbedQuery(ctx context.Context, provider, text string) ([]float32, error) {
	p := a.provider(provider)
	if p == nil {
		return nil, fmt.Errorf("%w: provider %q is not configured", core.ErrRetrievalProviderMismatch, provider)
	}
	vecs, err := a.embedBatch(ctx, p, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (a *Adapter) provider(name string) core.EmbeddingProvider {
	for _, p := range a.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// embedAll splits texts into batches and embeds them concurrently with p.
func (a *Adapter) embedAll(ctx context.Context, p core.EmbeddingProvider, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for start := 0; start < len(texts); start += a.cfg.BatchSize {
		end := min(start+a.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := a.embedBatch(gctx, p, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %s returned %d dims for text %d, want %d", core.ErrDimensionMismatch, p.Name(), len(v), i, dim)
		}
	}
	return out, nil
}

// embedBatch calls p with exponential backoff. Quota errors are not retried.
func (a *Adapter) embedBatch(ctx context.Context, p core.EmbeddingProvider, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, a.retryDelay(attempt-1, lastErr)); err != nil {
				return nil, err
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		vecs, err := p.EmbedTexts(cctx, batch)
		cancel()

		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("%w: %s returned %d vectors for %d texts", core.ErrEmbeddingServiceUnavailable, p.Name(), len(vecs), len(batch))
		}
		if err == nil {
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, core.ErrEmbeddingQuotaExceeded) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", core.ErrEmbeddingServiceUnavailable, p.Name(), a.cfg.MaxAttempts, lastErr)
}

// retryDelay is exponential backoff capped at BackoffMax; a server
// Retry-After hint wins when it is longer.
func (a *Adapter) retryDelay(attempt int, err error) time.Duration {
	d := a.cfg.BackoffBase << attempt
	if d <= 0 || d > a.cfg.BackoffMax {
		d = a.cfg.BackoffMax
	}
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > d {
		d = min(ra.RetryAfter(), a.cfg.BackoffMax)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
