package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
)

// RedisStateStore implements StateStore using Redis. It is suitable for
// distributed deployments where multiple instances need to share token
// state so they do not each refresh independently.
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisStateStore creates a new Redis-backed credential state store
func NewRedisStateStore(cfg RedisConfig) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStateStore{
		client:    client,
		keyPrefix: "credential:state:",
	}, nil
}

// NewRedisStateStoreWithClient creates a store with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisStateStoreWithClient(client *redis.Client, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = "credential:state:"
	}
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var _ StateStore = (*RedisStateStore)(nil)

// storedCredential is the JSON wire form kept in Redis
type storedCredential struct {
	AccessToken string     `json:"access_token"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Load returns the stored credential, or shared.ErrNotFound
func (s *RedisStateStore) Load(ctx context.Context, connectorID string) (*integration.Credential, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+connectorID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credential state: %w", err)
	}

	var stored storedCredential
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("corrupt credential state for %s: %w", connectorID, err)
	}

	cred := &integration.Credential{
		ConnectorID: connectorID,
		AccessToken: stored.AccessToken,
		IssuedAt:    stored.IssuedAt,
	}
	if stored.ExpiresAt != nil {
		cred.ExpiresAt = *stored.ExpiresAt
	}
	return cred, nil
}

// Save upserts the credential. Expiring tokens carry a Redis TTL slightly
// past their own expiry so dead state does not accumulate.
func (s *RedisStateStore) Save(ctx context.Context, cred *integration.Credential) error {
	stored := storedCredential{
		AccessToken: cred.AccessToken,
		IssuedAt:    cred.IssuedAt,
	}
	var ttl time.Duration
	if !cred.ExpiresAt.IsZero() {
		expires := cred.ExpiresAt
		stored.ExpiresAt = &expires
		ttl = time.Until(cred.ExpiresAt) + time.Hour
		if ttl < time.Minute {
			ttl = time.Minute
		}
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode credential state: %w", err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+cred.ConnectorID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save credential state: %w", err)
	}
	return nil
}

// Delete removes the credential
func (s *RedisStateStore) Delete(ctx context.Context, connectorID string) error {
	if err := s.client.Del(ctx, s.keyPrefix+connectorID).Err(); err != nil {
		return fmt.Errorf("failed to delete credential state: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
