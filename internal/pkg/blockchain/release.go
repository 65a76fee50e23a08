package blockchain

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/pubsub"
	"github.com/onflow/cadence"
	jsoncdc "github.com/onflow/cadence/encoding/json"
	"github.com/onflow/flow-go-sdk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const releaseCommandType = "ESCROW_RELEASE"

type Publisher interface {
	Publish(ctx context.Context, message pubsub.Publishable) error
}

// ReleaseBridge hands payouts to the settlement worker as blockchain commands.
type ReleaseBridge struct {
	publisher  Publisher
	authorizer Authorizer
}

func NewReleaseBridge(publisher Publisher, authorizer Authorizer) *ReleaseBridge {
	return &ReleaseBridge{
		publisher:  publisher,
		authorizer: authorizer,
	}
}

// Release publishes one release command. The settlement worker executes each
// reference once, so republishing after an ambiguous publish error is safe.
func (b *ReleaseBridge) Release(ctx context.Context, session string, reference string, payout model.Payout) error {
	payload, err := releaseArguments(session, payout)
	if err != nil {
		return err
	}

	authorizers := []Authorizer{b.authorizer}
	cmd := NewBlockchainCommand(releaseCommandType, payload, authorizers).
		WithReference(reference)
	if err := b.publisher.Publish(ctx, cmd); err != nil {
		return errors.Wrapf(err, "publishing release command %s", cmd.Id)
	}

	log.Info().
		Str("session", session).
		Str("command", cmd.Id).
		Str("reference", reference).
		Str("receiver", string(payout.Receiver)).
		Uint64("amount", payout.Amount).
		Msg("Release command published")
	return nil
}

// releaseArguments encodes the transaction arguments in JSON-Cadence:
// session id, receiver address, amount in minor units.
func releaseArguments(session string, payout model.Payout) ([]any, error) {
	sessionArg, err := cadence.NewString(session)
	if err != nil {
		return nil, errors.Wrap(err, "encoding session id")
	}
	receiver, err := NormalizeAddress(payout.Receiver)
	if err != nil {
		return nil, errors.Wrap(err, "encoding payout receiver")
	}

	values := []cadence.Value{
		sessionArg,
		cadence.BytesToAddress(flow.HexToAddress(string(receiver)).Bytes()),
		cadence.NewUInt64(payout.Amount),
	}

	payload := make([]any, 0, len(values))
	for _, v := range values {
		encoded, err := jsoncdc.Encode(v)
		if err != nil {
			return nil, errors.Wrap(err, "encoding release argument")
		}
		payload = append(payload, json.RawMessage(bytes.TrimSpace(encoded)))
	}
	return payload, nil
}
