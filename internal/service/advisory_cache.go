package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
)

const advisoryCachePrefix = "advisory:"

// AdvisoryCache decorates an Advisor so identical prompts reuse a recent raw response.
// Cache failures fall through to the wrapped advisor. Responses the engine rejects are
// evicted through Invalidate, so a bad answer is not replayed for its whole TTL.
type AdvisoryCache struct {
	next   scheduler.Advisor
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewAdvisoryCache wraps next with cache.
func NewAdvisoryCache(next scheduler.Advisor, cache *CacheService, ttl time.Duration, logger *zap.Logger) *AdvisoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisoryCache{next: next, cache: cache, ttl: ttl, logger: logger}
}

// Advise implements scheduler.Advisor.
func (a *AdvisoryCache) Advise(ctx context.Context, prompt scheduler.AdvisoryPrompt) (string, error) {
	key := advisoryCacheKey(prompt)

	var cached string
	if hit, err := a.cache.Get(ctx, key, &cached); err == nil && hit && cached != "" {
		a.logger.Debug("advisory cache hit", zap.String("kind", prompt.Kind))
		return cached, nil
	}

	raw, err := a.next.Advise(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := a.cache.Set(ctx, key, raw, a.ttl); err != nil {
		a.logger.Sugar().Warnw("advisory cache write failed", "kind", prompt.Kind, "error", err)
	}
	return raw, nil
}

// Invalidate implements scheduler.AdvisoryInvalidator.
func (a *AdvisoryCache) Invalidate(ctx context.Context, prompt scheduler.AdvisoryPrompt) {
	if err := a.cache.Delete(ctx, advisoryCacheKey(prompt)); err != nil {
		a.logger.Sugar().Warnw("advisory cache eviction failed", "kind", prompt.Kind, "error", err)
		return
	}
	a.logger.Debug("advisory cache entry evicted", zap.String("kind", prompt.Kind))
}

func advisoryCacheKey(prompt scheduler.AdvisoryPrompt) string {
	h := sha256.New()
	h.Write([]byte(prompt.Kind))
	h.Write([]byte{0})
	h.Write([]byte(prompt.System))
	h.Write([]byte{0})
	h.Write([]byte(prompt.User))
	return advisoryCachePrefix + prompt.Kind + ":" + hex.EncodeToString(h.Sum(nil))
}

type completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompletionAdvisor adapts a chat-completions client to scheduler.Advisor.
type CompletionAdvisor struct {
	client completer
}

// NewCompletionAdvisor wraps client.
func NewCompletionAdvisor(client completer) *CompletionAdvisor {
	return &CompletionAdvisor{client: client}
}

// Advise implements scheduler.Advisor.
func (a *CompletionAdvisor) Advise(ctx context.Context, prompt scheduler.AdvisoryPrompt) (string, error) {
	return a.client.Complete(ctx, prompt.System, prompt.User)
}
