package config

import "testing"

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Dispatcher.BatchWindow.Milliseconds() != 300 {
		t.Fatalf("expected 300ms batch window, got %v", c.Dispatcher.BatchWindow)
	}
	if c.Dispatcher.DedupKey != "symbol" {
		t.Fatalf("expected symbol dedup key, got %q", c.Dispatcher.DedupKey)
	}
	if c.Queue.Capacity != 1024 || c.Queue.Shards != 8 {
		t.Fatalf("unexpected queue defaults %+v", c.Queue)
	}
	if c.Engine.DeactivateAfterFailures != 0 {
		t.Fatalf("auto deactivation should default to off")
	}
}

func TestParseRejectsClickHouseStoreWithoutClickHouse(t *testing.T) {
	_, err := Parse([]byte("environment: test\nstorage:\n  execution: clickhouse\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseRejectsUnknownDedupKey(t *testing.T) {
	_, err := Parse([]byte("environment: test\ndispatcher:\n  dedup_key: pipeline\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseRejectsMaxBatchWaitBelowWindow(t *testing.T) {
	_, err := Parse([]byte("environment: test\ndispatcher:\n  batch_window: 2s\n  max_batch_wait: 1s\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	c := Default()
	env := map[string]string{
		"KAFKA_BROKERS":         "k1:9092,k2:9092",
		"REDIS_ADDR":            "redis:6379",
		"LOG_LEVEL":             "debug",
		"ENGINE_MAX_CONCURRENT": "7",
	}
	c.applyEnv(func(k string) string { return env[k] })

	if len(c.Kafka.Brokers) != 2 || !c.Kafka.Enabled {
		t.Fatalf("kafka override not applied: %+v", c.Kafka.Brokers)
	}
	if c.Redis.Addr != "redis:6379" || !c.Redis.Enabled {
		t.Fatalf("redis override not applied")
	}
	if c.Logging.Level != "debug" || c.Engine.MaxConcurrent != 7 {
		t.Fatalf("unexpected overrides: level=%s max=%d", c.Logging.Level, c.Engine.MaxConcurrent)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
