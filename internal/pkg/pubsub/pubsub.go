package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxPublishAttempts = 5

type Client struct {
	client *pubsub.Client
}

func NewClient(ctx context.Context, projectID string) (*Client, error) {
	if projectID == "" {
		return nil, errors.New("pub sub missing projectID to initialize")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "initializing pub sub connection")
	}
	log.Info().Msg(fmt.Sprintf("Successful pubsub init with projectID:%v", projectID))
	return &Client{client: client}, nil
}

// Subscribe blocks receiving messages until ctx is done.
func (c *Client) Subscribe(ctx context.Context, subscriptionHandler SubscriptionHandler) error {
	sub := c.client.Subscription(subscriptionHandler.SubscriptionId)
	err := sub.Receive(ctx, subscriptionHandler.Handler)
	if err != nil {
		log.Error().Err(err).Msg(fmt.Sprintf("Subscriber error for sub id %s", subscriptionHandler.SubscriptionId))
	}
	return err
}

// Publish waits for the server to accept the message, retrying with jittered
// backoff.
func (c *Client) Publish(ctx context.Context, message Publishable) error {
	topicName := message.GetEventTopicName()
	t, err := c.getTopic(ctx, topicName)
	if err != nil {
		return err
	}
	defer t.Stop()

	data := EncodeMessage(message)
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		_, err = t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxPublishAttempts {
			return errors.Wrapf(err, "publishing to %s after %d attempts", topicName, attempt)
		}

		wait := b.Duration()
		log.Warn().Err(err).Msg(fmt.Sprintf("Failed to publish message for %s, retrying in %s", topicName, wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) getTopic(ctx context.Context, topicName string) (*pubsub.Topic, error) {
	t := c.client.Topic(topicName)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "checking topic %s", topicName)
	}
	if exists {
		return t, nil
	}

	log.Info().Msg(fmt.Sprintf("Topic %s does not exist. Creating new", topicName))
	nt, err := c.client.CreateTopic(ctx, topicName)
	if err != nil {
		return nil, errors.Wrapf(err, "creating topic %s", topicName)
	}
	return nt, nil
}

func EncodeMessage(message any) []byte {
	switch m := message.(type) {
	case string:
		return []byte(m)

	default:
		bytes, _ := json.Marshal(message)
		return bytes
	}
}
