package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/tegaki-forms/api/internal/services"
)

// PubSubCompletionPublisher publishes fill completion events to a Pub/Sub topic.
type PubSubCompletionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCompletionPublisher constructs a Pub/Sub backed completion event publisher.
func NewPubSubCompletionPublisher(topic *pubsub.Topic) (*PubSubCompletionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub completion publisher: topic is required")
	}
	return &PubSubCompletionPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishFillCompleted enqueues a completion event message on the configured topic.
func (p *PubSubCompletionPublisher) PublishFillCompleted(ctx context.Context, message services.FillCompletedMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub completion publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal fill completed event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", message.EventID)
	setAttr(attrs, "templateFileId", message.TemplateFileID)
	setAttr(attrs, "driveFileId", message.DriveFileID)
	setAttr(attrs, "mode", message.Mode)
	if key := strings.TrimSpace(message.RequestID); key != "" {
		attrs["requestId"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish fill completed event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
