package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_DispatchOutbound(t *testing.T) {
	b := NewMessageBus(10)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	if err := b.Publish(ctx, OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Content != "hi" {
			t.Errorf("Content = %q, want hi", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
}

func TestMessageBus_UnknownChannelDropped(t *testing.T) {
	b := NewMessageBus(10)
	called := make(chan struct{}, 1)
	b.SubscribeOutbound("webui", func(OutboundMessage) { called <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- OutboundMessage{Channel: "nowhere"}
	b.Outbound <- OutboundMessage{Channel: "webui"}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("webui handler not called after unknown channel")
	}
}

func TestMessageBus_PublishCancelled(t *testing.T) {
	b := NewMessageBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, OutboundMessage{Channel: "x"}); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestInboundMessage_Keys(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", SenderID: "42", ChatID: "7", MessageID: "100"}
	if got := msg.UserKey(); got != "telegram:42" {
		t.Errorf("UserKey = %q, want telegram:42", got)
	}
	if got := msg.DedupKey(); got != "telegram:42:100" {
		t.Errorf("DedupKey = %q, want telegram:42:100", got)
	}

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	noID := InboundMessage{Channel: "webui", SenderID: "c1", Timestamp: ts}
	if got := noID.DedupKey(); got != "webui:c1:"+ts.Format(time.RFC3339Nano) {
		t.Errorf("DedupKey = %q", got)
	}
}
