package pubsub

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func TestPublisher_NilConnIsNoOp(t *testing.T) {
	p := New(nil, testLogger())

	if err := p.PublishCall(events.Event{CallID: "c1"}); err != nil {
		t.Fatalf("PublishCall with nil conn: %v", err)
	}
	if err := p.PublishActivity(events.BuildActivityEvent("hook", "c1", "", time.Now())); err != nil {
		t.Fatalf("PublishActivity with nil conn: %v", err)
	}
	if _, err := p.SubscribeCall("c1"); err == nil {
		t.Fatal("expected an error subscribing with no NATS connection")
	}
}

func TestPublisher_HandleEventNilConnIsNoOp(t *testing.T) {
	p := New(nil, testLogger())
	err := p.HandleEvent(context.Background(), events.Event{CallID: "c1", TraceID: "t1"})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}
