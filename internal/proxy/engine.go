// Package proxy wires the URL codec, response cache, fetch orchestrator,
// and content rewriter into the single engine behind the /watch surface.
package proxy

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lensproxy/lens/internal/monitoring"
	"github.com/lensproxy/lens/internal/proxy/cache"
	"github.com/lensproxy/lens/internal/proxy/codec"
	"github.com/lensproxy/lens/internal/proxy/fetch"
	"github.com/lensproxy/lens/internal/proxy/rewrite"
)

// Result is a resolved, possibly rewritten, proxied response.
type Result struct {
	Body        []byte
	ContentType string
	Status      int
	FinalURL    string
	CacheHit    bool
}

// Engine resolves proxy tokens into transformed responses.
type Engine struct {
	codec    *codec.Codec
	cache    *cache.Cache
	fetcher  *fetch.Client
	rewriter *rewrite.Rewriter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	cacheTTL time.Duration
}

// Config assembles an engine.
type Config struct {
	Codec    *codec.Codec
	Cache    *cache.Cache
	Fetcher  *fetch.Client
	Rewriter *rewrite.Rewriter
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// NewEngine creates the proxy engine from its constructed parts.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		codec:    cfg.Codec,
		cache:    cfg.Cache,
		fetcher:  cfg.Fetcher,
		rewriter: cfg.Rewriter,
		logger:   logger,
		cacheTTL: cfg.CacheTTL,
	}
}

// WithMetrics attaches the metrics collector.
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.metrics = m
	return e
}

// Codec exposes the engine's codec for handlers and rewritten links.
func (e *Engine) Codec() *codec.Codec { return e.codec }

// CacheStats returns a snapshot of the response cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// ResolveToken decodes a token and resolves the target it names.
func (e *Engine) ResolveToken(ctx context.Context, token string, opts fetch.Options) (*Result, error) {
	target, err := e.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	return e.Resolve(ctx, target, opts)
}

// Resolve fetches and transforms the target URL: cache lookup, fetch on
// miss, content rewrite by declared type, and cache store for status-200
// results under the final resolved URL. Concurrent misses for the same URL
// fetch in parallel; the last writer wins, which is an accepted trade-off.
func (e *Engine) Resolve(ctx context.Context, target string, opts fetch.Options) (*Result, error) {
	key := cache.NormalizeKey(target)

	if entry, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.CacheHits.Inc()
		}
		return &Result{
			Body:        entry.Payload,
			ContentType: entry.ContentType,
			Status:      200,
			FinalURL:    entry.Key,
			CacheHit:    true,
		}, nil
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}

	fetched, err := e.fetcher.Fetch(ctx, target, opts)
	if err != nil {
		if e.metrics != nil {
			e.metrics.FetchesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.FetchesTotal.WithLabelValues("ok").Inc()
	}

	body, contentType, err := e.rewriter.Rewrite(fetched.Body, fetched.ContentType, fetched.FinalURL)
	if err != nil {
		// Rewrite failures degrade to the unmodified body.
		e.logger.Warn("rewrite failed, serving original body",
			zap.String("url", fetched.FinalURL), zap.Error(err))
		body, contentType = fetched.Body, fetched.ContentType
	}
	if e.metrics != nil {
		e.metrics.RewritesTotal.WithLabelValues(rewriteKind(contentType)).Inc()
	}

	if fetched.Status == 200 {
		e.cache.Set(cache.NormalizeKey(fetched.FinalURL), body, contentType, e.cacheTTL)
	}

	return &Result{
		Body:        body,
		ContentType: contentType,
		Status:      fetched.Status,
		FinalURL:    fetched.FinalURL,
	}, nil
}

func rewriteKind(contentType string) string {
	switch {
	case strings.Contains(contentType, "html"):
		return "html"
	case strings.Contains(contentType, "css"):
		return "css"
	case strings.Contains(contentType, "javascript"):
		return "script"
	default:
		return "passthrough"
	}
}
