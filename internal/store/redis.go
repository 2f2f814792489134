// Package store provides storage backends for widget session state.
//
// This file implements the Redis-backed store, suited to multi-instance
// deployments where SQLite's single file is not shareable.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/embedbot/widgetcore/internal/models"
)

// transcriptKeyPrefix namespaces transcript keys away from session keys.
const transcriptKeyPrefix = "widgetcore:transcript:"

// redisConnectTimeout bounds the startup ping.
const redisConnectTimeout = 10 * time.Second

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis store. The DSN may be a full redis:// or
// rediss:// URL (hosted offerings hand these out) or a plain host:port.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore DSN not set")
		return nil, fmt.Errorf("redis DSN not set")
	}

	var client *redis.Client
	if strings.HasPrefix(cfg.DSN, "redis://") || strings.HasPrefix(cfg.DSN, "rediss://") {
		opt, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.DSN})
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Debug("Redis store connected")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) GetSessionID(ctx context.Context, namespace string) (string, error) {
	id, err := s.client.Get(ctx, namespace).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		slog.Error("RedisStore GetSessionID failed", "error", err, "namespace", namespace)
		return "", fmt.Errorf("failed to get session for %s: %w", namespace, err)
	}
	return id, nil
}

func (s *RedisStore) SaveSessionID(ctx context.Context, namespace, sessionID string) error {
	if err := s.client.Set(ctx, namespace, sessionID, 0).Err(); err != nil {
		slog.Error("RedisStore SaveSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to save session for %s: %w", namespace, err)
	}
	return nil
}

func (s *RedisStore) DeleteSessionID(ctx context.Context, namespace string) error {
	if err := s.client.Del(ctx, namespace).Err(); err != nil {
		slog.Error("RedisStore DeleteSessionID failed", "error", err, "namespace", namespace)
		return fmt.Errorf("failed to delete session for %s: %w", namespace, err)
	}
	return nil
}

func (s *RedisStore) SaveTranscript(ctx context.Context, sessionID string, messages []models.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := s.client.Set(ctx, transcriptKeyPrefix+sessionID, payload, 0).Err(); err != nil {
		slog.Error("RedisStore SaveTranscript failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save transcript for %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) GetTranscript(ctx context.Context, sessionID string) ([]models.Message, error) {
	payload, err := s.client.Get(ctx, transcriptKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetTranscript failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get transcript for %s: %w", sessionID, err)
	}
	var messages []models.Message
	if err := json.Unmarshal(payload, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode transcript for %s: %w", sessionID, err)
	}
	return messages, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
