package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	if err := q.Publish(ctx, Message{Type: TypeNotification, Body: []byte(`{"to":"a@example.com"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Type != TypeNotification || string(msg.Body) != `{"to":"a@example.com"}` {
			t.Fatalf("msg = %+v", msg)
		}
		if msg.ID == "" || msg.PublishedAt.IsZero() {
			t.Fatalf("publish did not stamp the message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	msgs, _ := q.Consume(ctx)
	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: "x"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "y"}); err == nil {
		t.Fatal("expected error publishing to a full queue with cancelled context")
	}
}

func TestStampKeepsExistingIdentity(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	got := stamp(Message{ID: "m1", Type: TypeNotification, PublishedAt: at})
	if got.ID != "m1" || !got.PublishedAt.Equal(at) {
		t.Fatalf("stamp = %+v", got)
	}
}

func TestDecodeRejectsForeignEntries(t *testing.T) {
	for _, raw := range []string{
		"notification|{}",
		`{"body":"e30="}`,
	} {
		if _, err := decode(raw); err == nil {
			t.Fatalf("decode(%q) succeeded", raw)
		}
	}
	raw, err := encode(Message{ID: "m1", Type: TypeNotification, Body: []byte(`{"note":"a|b"}`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := decode(raw)
	if err != nil || string(msg.Body) != `{"note":"a|b"}` {
		t.Fatalf("decode = %+v, %v", msg, err)
	}
}
