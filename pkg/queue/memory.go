package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process bounded queue with one worker per shard.
// TryEnqueue never blocks; a full shard yields ErrFull.
type MemoryQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	shards    []chan Message
	jobs      map[string]Job
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig, jobs ...Job) *MemoryQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	config.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		logger: lgr,
		config: config,
		shards: make([]chan Message, config.Shards),
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	per := config.shardCapacity()
	for i := range q.shards {
		q.shards[i] = make(chan Message, per)
	}
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

// RegisterJob registers a handler for a message type.
func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

// Start launches one worker per shard.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	for i := range q.shards {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("memory queue started",
		logger.Int("shards", q.config.Shards),
		logger.Int("capacity", q.config.Capacity))
	return nil
}

// Stop cancels workers and waits for in-flight messages.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		q.logger.Info("memory queue stopped")
		return nil
	}
}

// TryEnqueue adds a message to the key's shard without blocking.
func (q *MemoryQueue) TryEnqueue(ctx context.Context, key, msgType string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{
		ID:        uuid.NewString(),
		Key:       key,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case q.shards[ShardFor(key, len(q.shards))] <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Depth is the number of queued, not yet picked up, messages.
func (q *MemoryQueue) Depth() int {
	n := 0
	for _, s := range q.shards {
		n += len(s)
	}
	return n
}

func (q *MemoryQueue) worker(shard int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.shards[shard]:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	for {
		err := q.safeHandle(job, msg)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		q.logger.Error("message processing error",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts+1),
			logger.Error(err))
		if msg.Attempts >= q.config.RetryLimit {
			q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
			return
		}
		msg.Attempts++
		// Retry in place so later messages for the same key stay behind this one.
		select {
		case <-time.After(q.config.RetryDelay):
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *MemoryQueue) safeHandle(job Job, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panic: %v", job.Name(), r)
		}
	}()
	return job.Handle(q.ctx, msg.Payload)
}
