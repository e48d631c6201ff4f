package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spotiqueue/server/internal/errs"
)

// HostKey is the single account whose tokens drive the shared playback queue.
const HostKey = "host"

type TokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is unusable at now, with a small margin.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !now.Add(30 * time.Second).Before(t.ExpiresAt)
}

type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a new token store with the given Redis client
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func tokenKey(owner string) string {
	return fmt.Sprintf("spotiqueue:token:%s", owner)
}

// StoreTokens stores the owner's Spotify tokens in Redis
func (s *TokenStore) StoreTokens(ctx context.Context, owner string, token *TokenInfo) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.client.Set(ctx, tokenKey(owner), tokenJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// GetTokens returns errs.ErrNotFound when no tokens are stored for owner.
func (s *TokenStore) GetTokens(ctx context.Context, owner string) (*TokenInfo, error) {
	tokenJSON, err := s.client.Get(ctx, tokenKey(owner)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token TokenInfo
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	return &token, nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, owner string) error {
	return s.client.Del(ctx, tokenKey(owner)).Err()
}

// RefreshToken updates the access token and its expiry in Redis. A non-empty
// refreshToken replaces the stored one.
func (s *TokenStore) RefreshToken(ctx context.Context, owner, accessToken, refreshToken string, expiresAt time.Time) error {
	token, err := s.GetTokens(ctx, owner)
	if err != nil {
		return err
	}

	token.AccessToken = accessToken
	token.ExpiresAt = expiresAt
	if refreshToken != "" {
		token.RefreshToken = refreshToken
	}
	return s.StoreTokens(ctx, owner, token)
}
