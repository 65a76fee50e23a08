package game

import (
	"context"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/pubsub"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Moved is emitted by the game contract after every accepted move.
type Moved struct {
	GameId        uint64 `json:"gameID"`
	SessionId     string `json:"sessionId"`
	PlayerAddress string `json:"playerAddress"`
	X             uint   `json:"coordinateX"`
	Y             uint   `json:"coordinateY"`
}

// GameOver is emitted by the game contract once a board is sunk.
type GameOver struct {
	GameId    uint64 `json:"gameID"`
	SessionId string `json:"sessionId"`
	Winner    string `json:"winner"`
}

type invoker interface {
	Invoke(ctx context.Context, inv escrow.Invocation) (*escrow.Receipt, error)
	Config() escrow.Config
}

// gameContractBridge reports game contract events to the escrow, acting as
// the configured reporter.
type gameContractBridge struct {
	escrow invoker
	now    func() time.Time
}

func newGameContractBridge(service invoker) *gameContractBridge {
	return &gameContractBridge{
		escrow: service,
		now:    time.Now,
	}
}

// NewSubscriptions returns the handlers for the Moved and GameOver event
// subscriptions.
func NewSubscriptions(service invoker, movedSubscription, gameOverSubscription string) []pubsub.SubscriptionHandler {
	b := newGameContractBridge(service)
	return []pubsub.SubscriptionHandler{
		{SubscriptionId: movedSubscription, Handler: b.handleMoved},
		{SubscriptionId: gameOverSubscription, Handler: b.handleGameOver},
	}
}

func (b *gameContractBridge) handleMoved(ctx context.Context, message *gcppubsub.Message) {
	settle(message, b.moved(ctx, message.Data))
}

func (b *gameContractBridge) handleGameOver(ctx context.Context, message *gcppubsub.Message) {
	settle(message, b.gameOver(ctx, message.Data))
}

func settle(message *gcppubsub.Message, done bool) {
	if done {
		message.Ack()
		return
	}
	message.Nack()
}

func (b *gameContractBridge) moved(ctx context.Context, data []byte) bool {
	log.Info().Msg("Received message payload " + string(data))
	payload, err := utils.JsonDecodeByteStream[Moved](data)
	if err != nil {
		log.Warn().Err(err).Msg("Error while parsing Moved message")
		return true
	}

	return b.report(ctx, sessionOf(payload.SessionId, payload.GameId), escrow.OpUpdateMove, nil)
}

func (b *gameContractBridge) gameOver(ctx context.Context, data []byte) bool {
	log.Info().Msg("Received message payload " + string(data))
	payload, err := utils.JsonDecodeByteStream[GameOver](data)
	if err != nil {
		log.Warn().Err(err).Msg("Error while parsing GameOver message")
		return true
	}
	if payload.Winner == "" {
		log.Warn().Uint64("gameId", payload.GameId).Msg("GameOver without winner, dropping")
		return true
	}

	return b.report(ctx, sessionOf(payload.SessionId, payload.GameId), escrow.OpDeclareWinner, []byte(payload.Winner))
}

// report invokes op as the reporter. Rejections are final: a move reported
// after the game ended is expected and dropped.
func (b *gameContractBridge) report(ctx context.Context, session string, op escrow.OpKind, arg []byte) bool {
	args := [][]byte{[]byte(op.String())}
	if arg != nil {
		args = append(args, arg)
	}

	_, err := b.escrow.Invoke(ctx, escrow.Invocation{
		Session:   session,
		Operation: op.String(),
		Args:      args,
		Caller:    b.escrow.Config().Reporter,
		Timestamp: b.now().UTC().Unix(),
	})
	if err == nil || escrow.IsRejection(err) {
		return true
	}

	log.Warn().Err(err).Str("session", session).Msg("Error while reporting " + op.String())
	return false
}

// sessionOf falls back to the on-chain game id when the event carries no
// explicit escrow session.
func sessionOf(session string, gameId uint64) string {
	if session != "" {
		return session
	}
	return strconv.FormatUint(gameId, 10)
}
