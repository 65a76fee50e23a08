package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
)

type SubscriptionHandler struct {
	SubscriptionId string
	Handler        func(ctx context.Context, message *pubsub.Message)
}

// Publishable is anything routed to a topic by its own name.
type Publishable interface {
	GetEventTopicName() string
}
