package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Provider is the caching contract used to serve repeated investigations of
// the same alert without re-running the engine.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NoopProvider satisfies Provider while caching nothing. Used when caching
// is disabled in config.
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

func (n *NoopProvider) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (n *NoopProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *NoopProvider) Delete(ctx context.Context, key string) error { return nil }

func (n *NoopProvider) Close() error { return nil }
