package escrow

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/pubsub"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/utils"
	"github.com/rs/zerolog/log"
)

type invocationBridge struct {
	service *Service
}

// NewInvocationSubscription consumes invocations delivered by the execution
// environment, which authenticates the caller, stamps the time and verifies
// paired transfers before publishing.
func NewInvocationSubscription(service *Service, subscriptionId string) pubsub.SubscriptionHandler {
	b := &invocationBridge{service: service}
	return pubsub.SubscriptionHandler{
		SubscriptionId: subscriptionId,
		Handler:        b.handleInvocation,
	}
}

func (b *invocationBridge) handleInvocation(ctx context.Context, message *gcppubsub.Message) {
	if b.process(ctx, message.Data) {
		message.Ack()
		return
	}
	message.Nack()
}

// process reports whether the message is settled. Accepted and rejected
// invocations are both final; only infrastructure failures are redelivered.
func (b *invocationBridge) process(ctx context.Context, data []byte) bool {
	inv, err := utils.JsonDecodeByteStream[Invocation](data)
	if err != nil {
		log.Warn().Err(err).Msg("Error while parsing escrow invocation, dropping")
		return true
	}

	_, err = b.service.Invoke(ctx, *inv)
	if err == nil || IsRejection(err) {
		return true
	}

	log.Error().Err(err).Str("session", inv.Session).Msg("Escrow invocation failed, requesting redelivery")
	return false
}
