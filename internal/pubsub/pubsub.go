// Package pubsub fans conversation events out over NATS so every
// control-plane instance's SSE endpoints can observe a call's events, not
// only the instance whose dispatcher produced them. Grounded on the
// teacher's internal/streaming/distributed.go DistributedCancelService:
// subject naming, nil-conn-means-disabled construction, and
// Subscribe/Drain lifecycle, repurposed from a one-off cancel RPC into a
// plain fan-out publish/subscribe of conversation and activity events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/nats-io/nats.go"
)

const (
	callSubjectPrefix     = "conversation.call."
	traceSubjectPrefix    = "conversation.trace."
	activitySubject       = "conversation.activity"
)

// Publisher fans conversation/activity events out. A nil *nats.Conn yields
// a Publisher whose publish methods are no-ops and whose subscribe methods
// return an error — single-instance deployments don't
// need cross-instance fan-out, matching the teacher's
// NewDistributedCancelService "returns nil if NATS connection is not
// available" convention (here: publish becomes a no-op instead of the
// whole service being absent, since publish is additive, not a required
// capability on the request path).
type Publisher struct {
	nc  *nats.Conn
	log *logger.Logger
}

// New wraps nc. nc may be nil.
func New(nc *nats.Conn, log *logger.Logger) *Publisher {
	return &Publisher{nc: nc, log: log}
}

// PublishCall publishes evt on the per-call channel, per spec.md §4.2 step
// 6 ("Publish each event to a per-call pub/sub channel").
func (p *Publisher) PublishCall(evt events.Event) error {
	return p.publish(callSubjectPrefix+evt.CallID, evt)
}

// PublishTrace publishes evt on the per-trace channel, a supplement to the
// per-call channel spec.md names explicitly (grounded on
// original_source's streams.py conversation_trace_channel).
func (p *Publisher) PublishTrace(evt events.Event) error {
	if evt.TraceID == "" {
		return nil
	}
	return p.publish(traceSubjectPrefix+evt.TraceID, evt)
}

// PublishActivity publishes a coarser record to the one global activity
// channel, per spec.md §4.2 step 6's "global activity channel".
func (p *Publisher) PublishActivity(evt events.ActivityEvent) error {
	return p.publish(activitySubject, evt)
}

func (p *Publisher) publish(subject string, v any) error {
	if p.nc == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pubsub: marshal: %w", err)
	}
	if err := p.nc.Publish(subject, b); err != nil {
		if p.log != nil {
			p.log.Warn("pubsub publish failed", "subject", subject, "error", err)
		}
		return err
	}
	return nil
}

// HandleEvent implements dispatcher.EventSink, so the Publisher can be
// registered as one of a Dispatcher's event sinks directly: every event
// the dispatcher builds is published to both its call and trace channels.
func (p *Publisher) HandleEvent(_ context.Context, evt events.Event) error {
	if err := p.PublishCall(evt); err != nil {
		return err
	}
	return p.PublishTrace(evt)
}

// Subscription is a live subscription to one subject, delivering the raw
// NATS messages as they arrive. Used by the conversation/activity SSE handlers to
// bridge a NATS subject onto a client's response writer.
type Subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// SubscribeCall subscribes to one call's event channel.
func (p *Publisher) SubscribeCall(callID string) (*Subscription, error) {
	return p.subscribe(callSubjectPrefix + callID)
}

// SubscribeTrace subscribes to one trace's event channel.
func (p *Publisher) SubscribeTrace(traceID string) (*Subscription, error) {
	return p.subscribe(traceSubjectPrefix + traceID)
}

// SubscribeActivity subscribes to the global activity channel.
func (p *Publisher) SubscribeActivity() (*Subscription, error) {
	return p.subscribe(activitySubject)
}

func (p *Publisher) subscribe(subject string) (*Subscription, error) {
	if p.nc == nil {
		return nil, fmt.Errorf("pubsub: no NATS connection configured")
	}
	ch := make(chan *nats.Msg, 64)
	sub, err := p.nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", subject, err)
	}
	return &Subscription{sub: sub, ch: ch}, nil
}

// Messages returns the channel the subscription's messages arrive on,
// undecoded. The SSE handlers select on it alongside a done channel.
func (s *Subscription) Messages() <-chan *nats.Msg {
	return s.ch
}

// Close unsubscribes; messages already buffered on Messages() are left
// unread.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}
