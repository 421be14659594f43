package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// ErrFull is returned by TryEnqueue when the target shard is at capacity.
var ErrFull = errors.New("queue full")

// Enqueuer is the producer side of a bounded, key-ordered queue.
// Messages sharing a key land on the same shard and are handled in FIFO order.
type Enqueuer interface {
	TryEnqueue(ctx context.Context, key, msgType string, payload interface{}) error
	Depth() int
}

// Queue is an Enqueuer that also runs the registered jobs.
type Queue interface {
	Enqueuer
	Start() error
	Stop(ctx context.Context) error
}

// MessageHandler is a function that processes a message
type MessageHandler func(context.Context, interface{}) error

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           // workers per queue; memory queue uses one per shard
	Shards     int           // number of key-ordered shards
	Capacity   int           // total bound across shards
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // time delay between retries
}

func (c *QueueConfig) normalize() {
	if c.Shards <= 0 {
		c.Shards = 1
	}
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	if c.Workers <= 0 {
		c.Workers = c.Shards
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
}

// shardCapacity splits the total bound across shards, never below one slot.
func (c *QueueConfig) shardCapacity() int {
	n := c.Capacity / c.Shards
	if n < 1 {
		n = 1
	}
	return n
}

// Message represents a message in the queue
type Message struct {
	ID        string
	Key       string
	Type      string
	Payload   interface{}
	Attempts  int
	Timestamp time.Time
}

// ShardFor maps a key onto one of n shards.
func ShardFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case map[string]interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal map to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
