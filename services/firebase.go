package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fallguard/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseKVStore keeps session values under a Realtime Database path
type FirebaseKVStore struct {
	client   *db.Client
	basePath string
	logger   *zap.Logger
}

// NewFirebaseKVStore opens the Realtime Database named in cfg
func NewFirebaseKVStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseKVStore, error) {
	// Parse the service account JSON from environment variable
	serviceAccountJSON := []byte(cfg.FirebaseServiceAccountJSON)

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON(serviceAccountJSON)
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseKVStore{
		client:   client,
		basePath: SessionPath(cfg.DeviceID),
		logger:   logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// SessionPath returns the database path holding a device's session
func SessionPath(deviceID string) string {
	return "sessions/" + deviceID
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseKVStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data json.RawMessage
		err := fs.client.NewRef(fs.basePath).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fs *FirebaseKVStore) ref(key string) *db.Ref {
	// ':' separated keys map onto nested children
	return fs.client.NewRef(fs.basePath + "/" + strings.ReplaceAll(key, ":", "/"))
}

// Get returns the raw JSON stored at the key
func (fs *FirebaseKVStore) Get(ctx context.Context, key string) (string, error) {
	var data json.RawMessage
	if err := fs.ref(key).Get(ctx, &data); err != nil {
		return "", fmt.Errorf("error getting %s: %w", key, err)
	}
	if len(data) == 0 || string(data) == "null" {
		return "", ErrKeyNotFound
	}
	return string(data), nil
}

// Set stores the value at the key, as a JSON object when it parses as one
func (fs *FirebaseKVStore) Set(ctx context.Context, key string, value string) error {
	var v any = value
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		v = obj
	}
	if err := fs.ref(key).Set(ctx, v); err != nil {
		return fmt.Errorf("error setting %s: %w", key, err)
	}
	return nil
}
