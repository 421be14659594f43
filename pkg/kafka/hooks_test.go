package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestHookChain_ThreadsContextAndReversesAfter(t *testing.T) {
	var order []string
	record := func(name string) ConsumerHook {
		return HookFuncs{
			After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, name) },
		}
	}
	chain := NewHookChain(TracingHook(), nil, record("first"), record("second"))

	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("t-42")}}}
	ctx, _, data, err := chain.BeforeHandle(context.Background(), "signals.generated", km, []byte(`{"symbol":"AAPL"}`))
	if err != nil {
		t.Fatalf("BeforeHandle() error = %v", err)
	}
	if TraceIDFrom(ctx) != "t-42" {
		t.Fatalf("expected trace id t-42, got %q", TraceIDFrom(ctx))
	}
	if string(data) != `{"symbol":"AAPL"}` {
		t.Fatalf("payload changed: %s", data)
	}

	chain.AfterHandle(ctx, "signals.generated", km, data, nil)
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse order, got %v", order)
	}
}

func TestHookChain_ValidationErrorNotifiesAll(t *testing.T) {
	var notified int
	counter := HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { notified++ }}
	chain := NewHookChain(counter, ValidatingHook(), counter)

	_, _, _, err := chain.BeforeHandle(context.Background(), "signals.generated", kafka.Message{Offset: 9}, nil)
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_VALIDATION" {
		t.Fatalf("expected ERR_VALIDATION hook error, got %v", err)
	}
	if notified != 2 {
		t.Fatalf("expected OnError on every hook, got %d", notified)
	}
}

func TestHookChain_RecoversPanic(t *testing.T) {
	boom := HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("bad hook")
	}}
	_, _, _, err := NewHookChain(boom).BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_PANIC" {
		t.Fatalf("expected ERR_PANIC, got %v", err)
	}
}
