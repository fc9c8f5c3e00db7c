// Package cache holds a short-lived Redis cache for published form
// templates. getPublished is the one hot read path (campaign creation and
// the portal hit it on every render), so its result is kept for a few
// minutes and dropped eagerly whenever the family changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attest/api/internal/store"
	"github.com/redis/go-redis/v9"
)

type TemplateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*TemplateCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration) *TemplateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TemplateCache{client: client, ttl: ttl}
}

// All languages of one family live in a single hash so invalidation is one
// DEL regardless of how many language variants were cached.
func familyKey(orgID, name string) string {
	return "published:" + orgID + ":" + name
}

func languageField(language string) string {
	if language == "" {
		return "_any"
	}
	return language
}

// GetPublished returns a cached published template, with ok=false on a miss.
func (c *TemplateCache) GetPublished(ctx context.Context, orgID, name, language string) (store.FormTemplate, bool, error) {
	payload, err := c.client.HGet(ctx, familyKey(orgID, name), languageField(language)).Result()
	if errors.Is(err, redis.Nil) {
		return store.FormTemplate{}, false, nil
	}
	if err != nil {
		return store.FormTemplate{}, false, fmt.Errorf("cache lookup: %w", err)
	}

	var t store.FormTemplate
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		return store.FormTemplate{}, false, nil
	}
	return t, true, nil
}

// SetPublished caches a published template for the configured TTL.
func (c *TemplateCache) SetPublished(ctx context.Context, language string, t store.FormTemplate) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	key := familyKey(t.OrganizationID, t.Name)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, languageField(language), payload)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops every cached language variant of a template family.
// Called after publish, archive, update, and delete.
func (c *TemplateCache) Invalidate(ctx context.Context, orgID, name string) error {
	if err := c.client.Del(ctx, familyKey(orgID, name)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *TemplateCache) Close() error {
	return c.client.Close()
}

func (c *TemplateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
