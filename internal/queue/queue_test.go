package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, Message{Type: TypeFeeSweep, Body: []byte("now")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	select {
	case msg := <-messages:
		if msg.Type != TypeFeeSweep || string(msg.Body) != "now" {
			t.Errorf("got %q/%q", msg.Type, msg.Body)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublish_CancelledContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, Message{Type: TypeFeeSweep}); err == nil {
		t.Fatal("expected error publishing to full queue with cancelled context")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeFeeSweep, Body: []byte("payload|with|pipes")}
	got, err := deserialize(serialize(msg))
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Errorf("round trip = %q/%q", got.Type, got.Body)
	}
}

func TestDeserialize_NoType(t *testing.T) {
	got, err := deserialize("untyped")
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	if got.Type != "" || string(got.Body) != "untyped" {
		t.Errorf("got %q/%q", got.Type, got.Body)
	}
}
