package notify

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/sirupsen/logrus"
)

// PubSubNotifier publishes events as JSON so other services can follow document activity.
type PubSubNotifier struct {
	topic  *pubsub.Topic
	logger *logrus.Logger
}

func NewPubSubNotifier(topic *pubsub.Topic, logger *logrus.Logger) *PubSubNotifier {
	return &PubSubNotifier{topic: topic, logger: logger}
}

// ConnectPubSubNotifier opens the shared client and makes sure the topic exists.
func ConnectPubSubNotifier(ctx context.Context, topicName string, logger *logrus.Logger) (*PubSubNotifier, error) {
	if topicName == "" {
		return nil, errors.New("PUBSUB_TOPIC is not set")
	}
	client, err := config.GetPubSubClient(ctx, 3)
	if err != nil {
		return nil, err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, topicName)
	if err != nil {
		return nil, err
	}
	return NewPubSubNotifier(topic, logger), nil
}

func (n *PubSubNotifier) Notify(ctx context.Context, e Event) {
	attrs := map[string]string{
		"kind":          string(e.Kind),
		"operation":     e.Operation,
		"document_type": string(e.DocumentType),
		"business_id":   e.BusinessId,
	}
	msgId, err := config.PublishJSON(context.WithoutCancel(ctx), n.topic, e, attrs)
	if err != nil {
		config.LogError(n.logger, "notify", "PubSubNotifier.Notify", "publish", e, err)
		return
	}
	n.logger.WithFields(logrus.Fields{
		"module":     "notify",
		"message_id": msgId,
		"operation":  e.Operation,
	}).Debug("document event published")
}

// Stop flushes pending publishes.
func (n *PubSubNotifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
