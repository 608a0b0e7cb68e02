package main

import (
	"context"
	"flag"
	"time"

	"fallguard/config"
	"fallguard/models"
	"fallguard/services"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	userID     = flag.String("user", "", "User ID stored in the session")
	name       = flag.String("name", "", "Display name stored in the session")
	phone      = flag.String("phone", "", "Contact phone stored in the session")
	permission = flag.String("permission", "granted", "Location permission: granted or denied")
)

// Seeds the persisted session the escalation reads identity and location
// permission from.
func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store services.KVStore
	switch cfg.SessionBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		store = services.NewRedisKVStore(client, cfg.SessionKeyPrefix+cfg.DeviceID+":")
	case "firebase":
		store, err = services.NewFirebaseKVStore(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase session store", zap.Error(err))
		}
	default:
		logger.Fatal("SESSION_BACKEND must be redis or firebase to seed a session",
			zap.String("session_backend", cfg.SessionBackend))
	}

	var user models.UserRef
	if *userID != "" {
		user = models.UserRef{"userId": *userID}
		if *name != "" {
			user["name"] = *name
		}
		if *phone != "" {
			user["phone"] = *phone
		}
	}

	status := models.PermissionStatus(*permission)
	if status != models.PermissionGranted && status != models.PermissionDenied {
		logger.Fatal("Invalid permission", zap.String("permission", *permission))
	}

	session := services.NewSession(store, cfg.LocationPermissionDefault, logger)
	if err := session.Save(ctx, user, status); err != nil {
		logger.Fatal("Failed to seed session", zap.Error(err))
	}

	logger.Info("Session seeded",
		zap.String("device_id", cfg.DeviceID),
		zap.String("session_backend", cfg.SessionBackend),
		zap.String("user_id", user.UserID()),
		zap.String("permission", string(status)))
}
