package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreybb/datapusher/models"
	"github.com/coreybb/datapusher/webutil"
	"github.com/redis/go-redis/v9"
)

const (
	tokenCacheKeyPrefix  = "datapusher:token:"
	DefaultTokenCacheTTL = 5 * time.Minute
)

// AccountTokenLookup resolves an account from its app secret token.
type AccountTokenLookup interface {
	GetAccountByToken(ctx context.Context, token string) (*models.Account, error)
}

// TokenCache keeps token-to-account resolutions in Redis in front of another
// lookup. Redis failures are logged and fall through to the wrapped lookup.
type TokenCache struct {
	next AccountTokenLookup
	rdb  *redis.Client
	ttl  time.Duration
}

func NewTokenCache(next AccountTokenLookup, rdb *redis.Client, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenCacheTTL
	}
	return &TokenCache{next: next, rdb: rdb, ttl: ttl}
}

// cachedAccount is what the cache stores. The token is only ever part of the
// key, as a hash; hits restore it from the token being resolved.
type cachedAccount struct {
	ID      int64   `json:"account_id"`
	Email   string  `json:"email"`
	Name    string  `json:"account_name"`
	Website *string `json:"website,omitempty"`
}

func tokenCacheKey(token string) (string, error) {
	hash, err := webutil.GenerateHash(token)
	if err != nil {
		return "", err
	}
	return tokenCacheKeyPrefix + hash, nil
}

func (c *TokenCache) GetAccountByToken(ctx context.Context, token string) (*models.Account, error) {
	key, err := tokenCacheKey(token)
	if err != nil {
		return c.next.GetAccountByToken(ctx, token)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedAccount
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil && cached.ID > 0 {
			return &models.Account{
				ID:             cached.ID,
				Email:          cached.Email,
				Name:           cached.Name,
				AppSecretToken: token,
				Website:        cached.Website,
			}, nil
		}
		slog.Warn("Discarding malformed token cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("Token cache read failed", "error", err)
	}

	account, err := c.next.GetAccountByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	entry := cachedAccount{ID: account.ID, Email: account.Email, Name: account.Name, Website: account.Website}
	if encoded, err := json.Marshal(entry); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			slog.Warn("Token cache write failed", "account_id", account.ID, "error", err)
		}
	}
	return account, nil
}

// Invalidate drops the cached resolution for token.
func (c *TokenCache) Invalidate(ctx context.Context, token string) error {
	key, err := tokenCacheKey(token)
	if err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token cache entry: %w", err)
	}
	return nil
}
