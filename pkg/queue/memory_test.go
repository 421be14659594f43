package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AgentFlow/pkg/logger"
)

type recordingJob struct {
	mu       sync.Mutex
	seen     []string
	failOnce map[string]bool
	panicOn  string
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "test.message" }

func (j *recordingJob) Handle(_ context.Context, payload interface{}) error {
	s, _ := payload.(string)
	if s == j.panicOn {
		panic("boom")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seen = append(j.seen, s)
	if j.failOnce[s] {
		delete(j.failOnce, s)
		return errors.New("transient")
	}
	return nil
}

func (j *recordingJob) handled() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.seen...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryQueue_TryEnqueueFullShard(t *testing.T) {
	q := NewMemoryQueue(logger.NewNop(), &QueueConfig{Shards: 1, Capacity: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := q.TryEnqueue(ctx, "AAPL", "test.message", "x"); err != nil {
			t.Fatalf("TryEnqueue(%d) error = %v", i, err)
		}
	}
	if err := q.TryEnqueue(ctx, "AAPL", "test.message", "x"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Depth())
	}
}

func TestMemoryQueue_KeyOrderAndRetry(t *testing.T) {
	job := &recordingJob{failOnce: map[string]bool{"a1": true}}
	q := NewMemoryQueue(logger.NewNop(), &QueueConfig{Shards: 2, Capacity: 16, RetryLimit: 2, RetryDelay: time.Millisecond}, job)
	ctx := context.Background()
	for _, p := range []string{"a1", "a2", "a3"} {
		if err := q.TryEnqueue(ctx, "pipeline-a|AAPL", "test.message", p); err != nil {
			t.Fatalf("TryEnqueue() error = %v", err)
		}
	}
	if err := q.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = q.Stop(context.Background()) }()

	waitFor(t, func() bool { return len(job.handled()) == 4 })
	got := job.handled()
	want := []string{"a1", "a1", "a2", "a3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMemoryQueue_PanicDoesNotStopWorker(t *testing.T) {
	job := &recordingJob{panicOn: "bad"}
	q := NewMemoryQueue(logger.NewNop(), &QueueConfig{Shards: 1, Capacity: 4, RetryDelay: time.Millisecond}, job)
	if err := q.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = q.Stop(context.Background()) }()

	ctx := context.Background()
	_ = q.TryEnqueue(ctx, "k", "test.message", "bad")
	_ = q.TryEnqueue(ctx, "k", "test.message", "good")
	waitFor(t, func() bool { return len(job.handled()) == 1 })
	if job.handled()[0] != "good" {
		t.Fatalf("expected good to be handled, got %v", job.handled())
	}
}

func TestParsePayload(t *testing.T) {
	type req struct {
		ID string `json:"id"`
	}
	for name, payload := range map[string]interface{}{
		"pointer": &req{ID: "r1"},
		"value":   req{ID: "r1"},
		"map":     map[string]interface{}{"id": "r1"},
		"bytes":   []byte(`{"id":"r1"}`),
	} {
		got, err := ParsePayload[req](payload)
		if err != nil {
			t.Fatalf("%s: ParsePayload() error = %v", name, err)
		}
		if got.ID != "r1" {
			t.Fatalf("%s: expected id r1, got %q", name, got.ID)
		}
	}
}
