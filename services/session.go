package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fallguard/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrKeyNotFound means the session store holds no value for the key
var ErrKeyNotFound = errors.New("session key not found")

// Session keys
const (
	UserDataKey           = "userData"
	LocationPermissionKey = "permissions:location"
)

// KVStore is the persisted session storage
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// RedisKVStore stores session values under a key prefix in Redis
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

// NewRedisKVStore stores session keys in Redis under prefix
func NewRedisKVStore(client *redis.Client, prefix string) *RedisKVStore {
	return &RedisKVStore{client: client, prefix: prefix}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

// Session reads the identity and permission records the core consumes
type Session struct {
	store             KVStore
	defaultPermission models.PermissionStatus
	logger            *zap.Logger
}

// NewSession wraps a store. defaultPermission applies when no permission
// record exists; anything but "granted" means denied.
func NewSession(store KVStore, defaultPermission string, logger *zap.Logger) *Session {
	perm := models.PermissionDenied
	if models.PermissionStatus(strings.ToLower(defaultPermission)) == models.PermissionGranted {
		perm = models.PermissionGranted
	}
	return &Session{store: store, defaultPermission: perm, logger: logger}
}

// UserRef returns the stored identity, or nil when none is stored
func (s *Session) UserRef(ctx context.Context) (models.UserRef, error) {
	raw, err := s.store.Get(ctx, UserDataKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading user data: %w", err)
	}
	if raw == "" || raw == "null" {
		return nil, nil
	}

	// The value may be an object or a JSON string holding an object
	var nested string
	if err := json.Unmarshal([]byte(raw), &nested); err == nil {
		raw = nested
	}

	var user models.UserRef
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("error parsing user data: %w", err)
	}
	return user, nil
}

// RequestLocation reports the stored location permission
func (s *Session) RequestLocation(ctx context.Context) (models.PermissionStatus, error) {
	raw, err := s.store.Get(ctx, LocationPermissionKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			s.logger.Debug("No location permission record, using default",
				zap.String("default", string(s.defaultPermission)))
			return s.defaultPermission, nil
		}
		return models.PermissionDenied, fmt.Errorf("error reading location permission: %w", err)
	}

	if models.PermissionStatus(strings.ToLower(strings.Trim(raw, "\" \n"))) == models.PermissionGranted {
		return models.PermissionGranted, nil
	}
	return models.PermissionDenied, nil
}

// Save writes the identity and location permission records
func (s *Session) Save(ctx context.Context, user models.UserRef, permission models.PermissionStatus) error {
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user data: %w", err)
		}
		if err := s.store.Set(ctx, UserDataKey, string(data)); err != nil {
			return fmt.Errorf("failed to store user data: %w", err)
		}
	}
	if permission != "" {
		if err := s.store.Set(ctx, LocationPermissionKey, string(permission)); err != nil {
			return fmt.Errorf("failed to store location permission: %w", err)
		}
	}
	return nil
}

// NoSession is used when no session backend is configured
type NoSession struct{}

func (NoSession) Get(ctx context.Context, key string) (string, error) {
	return "", ErrKeyNotFound
}

func (NoSession) Set(ctx context.Context, key string, value string) error {
	return fmt.Errorf("no session backend configured")
}
