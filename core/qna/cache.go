package qna

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/m3rciful/qnabot/core/logger"
)

// CachedClient memoises successful lookups per normalised question.
// Errors are never cached.
type CachedClient struct {
	next  Client
	kb    string
	cache *lru.Cache
}

var _ Client = (*CachedClient)(nil)

// NewCachedClient wraps next with an LRU of size entries.
func NewCachedClient(next Client, kb string, size int) (*CachedClient, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedClient{next: next, kb: kb, cache: cache}, nil
}

// GetAnswers serves from cache or delegates and stores the result.
func (c *CachedClient) GetAnswers(ctx context.Context, question string) ([]Answer, error) {
	key := cacheKey(question)
	if v, ok := c.cache.Get(key); ok {
		logger.Debug(ctx, "qna", "qna.cache",
			slog.String("cache", "hit"),
			slog.String("kb", c.kb),
		)
		return cloneAnswers(v.([]Answer)), nil
	}
	answers, err := c.next.GetAnswers(ctx, question)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneAnswers(answers))
	logger.Debug(ctx, "qna", "qna.cache",
		slog.String("cache", "miss"),
		slog.String("kb", c.kb),
	)
	return answers, nil
}

// Len reports the number of cached questions.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}

func cacheKey(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

func cloneAnswers(in []Answer) []Answer {
	out := make([]Answer, len(in))
	copy(out, in)
	return out
}
