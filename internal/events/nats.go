package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"solana-swap-engine/internal/domain"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "evt.swap.trade"

// JetStreamPublisher is the part of nats.JetStreamContext the sink uses.
type JetStreamPublisher interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// StreamAdmin is the part of nats.JetStreamContext used to provision the stream.
type StreamAdmin interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// DedupWindow is how long JetStream remembers message ids.
const DedupWindow = 10 * time.Minute

// EnsureStream creates stream over <prefix>.> unless it already exists.
func EnsureStream(js StreamAdmin, stream, prefix string) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Storage:    nats.FileStorage,
		Duplicates: DedupWindow,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", stream, err)
	}
	return nil
}

// NATSSink publishes events to JetStream on <prefix>.<stage>, e.g.
// evt.swap.trade.confirmed. The event id is the JetStream message id, so
// re-published events are deduplicated by the stream.
type NATSSink struct {
	js      JetStreamPublisher
	prefix  string
	service string
}

// NewNATSSink creates a NATSSink. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(js JetStreamPublisher, prefix, service string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{js: js, prefix: prefix, service: service}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event of stage is published on.
func (s *NATSSink) Subject(stage domain.Stage) string {
	return s.prefix + "." + strings.ToLower(stage.String())
}

// Handle implements Sink.
func (s *NATSSink) Handle(_ context.Context, ev domain.TradeEvent) error {
	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.Subject(ev.Stage),
		Data:    data,
		Header: nats.Header{
			nats.MsgIdHdr:  []string{ev.EventID},
			"trade_id":     []string{ev.TradeID},
			"stage":        []string{ev.Stage.String()},
			"service":      []string{s.service},
			"content_type": []string{"application/json"},
		},
	}

	if _, err := s.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}
