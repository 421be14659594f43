package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// RedisCatalog stores pipelines and scanners as JSON values of two hashes,
// so every process of a deployment reads the same catalog.
type RedisCatalog struct {
	client *redis.Client
	prefix string
}

func NewRedisCatalog(client *redis.Client, prefix string) *RedisCatalog {
	if prefix == "" {
		prefix = "agentflow"
	}
	return &RedisCatalog{client: client, prefix: prefix}
}

func (c *RedisCatalog) pipelinesKey() string { return c.prefix + ":catalog:pipelines" }
func (c *RedisCatalog) scannersKey() string  { return c.prefix + ":catalog:scanners" }

func (c *RedisCatalog) SavePipeline(ctx context.Context, p *models.Pipeline) error {
	return c.put(ctx, c.pipelinesKey(), p.ID, p)
}

func (c *RedisCatalog) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := c.get(ctx, c.pipelinesKey(), id, &p); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", id, err)
	}
	return &p, nil
}

func (c *RedisCatalog) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	raw, err := c.client.HGetAll(ctx, c.pipelinesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	out := make([]*models.Pipeline, 0, len(raw))
	for id, v := range raw {
		var p models.Pipeline
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode pipeline %s: %w", id, err)
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *RedisCatalog) SaveScanner(ctx context.Context, s *models.Scanner) error {
	return c.put(ctx, c.scannersKey(), s.ID, s)
}

func (c *RedisCatalog) GetScanner(ctx context.Context, id string) (*models.Scanner, error) {
	var s models.Scanner
	if err := c.get(ctx, c.scannersKey(), id, &s); err != nil {
		return nil, fmt.Errorf("scanner %s: %w", id, err)
	}
	return &s, nil
}

func (c *RedisCatalog) ListScanners(ctx context.Context) ([]*models.Scanner, error) {
	raw, err := c.client.HGetAll(ctx, c.scannersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list scanners: %w", err)
	}
	out := make([]*models.Scanner, 0, len(raw))
	for id, v := range raw {
		var s models.Scanner
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("decode scanner %s: %w", id, err)
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *RedisCatalog) put(ctx context.Context, key, field string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	if err := c.client.HSet(ctx, key, field, b).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (c *RedisCatalog) get(ctx context.Context, key, field string, dest interface{}) error {
	b, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

var _ domrepo.CatalogStore = (*RedisCatalog)(nil)
