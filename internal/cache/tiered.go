package cache

import (
	"context"
	"errors"
	"time"
)

// Tiered reads through a fast local provider before a shared remote one and
// back-fills the local tier on remote hits.
type Tiered struct {
	local    Provider
	remote   Provider
	localTTL time.Duration
}

// NewTiered composes local and remote providers.
func NewTiered(local, remote Provider, localTTL time.Duration) *Tiered {
	if local == nil {
		local = NoopProvider{}
	}
	if remote == nil {
		remote = NoopProvider{}
	}
	return &Tiered{local: local, remote: remote, localTTL: localTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if value, err := t.local.Get(ctx, key); err == nil {
		return value, nil
	}
	value, err := t.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = t.local.Set(ctx, key, value, t.localTTL)
	return value, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := t.localTTL
	if ttl > 0 && (localTTL <= 0 || ttl < localTTL) {
		localTTL = ttl
	}
	_ = t.local.Set(ctx, key, value, localTTL)
	return t.remote.Set(ctx, key, value, ttl)
}

func (t *Tiered) Del(ctx context.Context, key string) error {
	return errors.Join(t.local.Del(ctx, key), t.remote.Del(ctx, key))
}

func (t *Tiered) Close() error {
	return errors.Join(t.local.Close(), t.remote.Close())
}
