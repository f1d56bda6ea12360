// Meridian - Intelligence Event Ingestion and Fusion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/meridian

package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/meridian/internal/logging"
	"github.com/tomtom215/meridian/internal/metrics"
	"github.com/tomtom215/meridian/internal/models"
)

// DefaultTopic carries fused events.
const DefaultTopic = "meridian.events.fused"

// Metadata keys set on published messages.
const (
	MetadataCanonicalID = "canonical_id"
	MetadataVerified    = "verified"
	MetadataSourceCount = "source_count"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Topic string

	// Buffer is the per-subscriber output channel size.
	Buffer int64
}

// Publisher publishes fused events to an in-process Watermill topic.
// Subscribers receive a copy of every event published after they subscribe.
type Publisher struct {
	pubsub *gochannel.GoChannel
	topic  string
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	return &Publisher{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.Buffer}, logger),
		topic:  cfg.Topic,
	}
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Persist implements Sink.
func (p *Publisher) Persist(_ context.Context, event models.FusedEvent) error {
	err := p.publish(event)
	metrics.RecordSinkWrite("publisher", err)
	return err
}

func (p *Publisher) publish(event models.FusedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), data)
	msg.Metadata.Set(MetadataCanonicalID, event.CanonicalID)
	msg.Metadata.Set(MetadataVerified, strconv.FormatBool(event.Verified))
	msg.Metadata.Set(MetadataSourceCount, strconv.Itoa(event.SourceCount))

	if err := p.pubsub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.CanonicalID, err)
	}
	return nil
}

// Subscribe returns a channel of fused-event messages. Each message must be
// acked. The channel closes when ctx is cancelled or the publisher is closed.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return p.pubsub.Subscribe(ctx, p.topic)
}

// Close closes the topic and all subscriptions.
func (p *Publisher) Close() error {
	return p.pubsub.Close()
}

// DecodeEvent unmarshals a published message payload.
func DecodeEvent(msg *message.Message) (models.FusedEvent, error) {
	var event models.FusedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
