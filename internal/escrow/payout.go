package escrow

import (
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

// potPayout is what the winner receives: both wagers minus the fee reserve.
func potPayout(cfg Config, rec *model.EscrowRecord, receiver model.Identity, reason model.PayoutReason) (*model.Payout, error) {
	if rec.Wager > (^uint64(0))/2 {
		return nil, errors.Wrapf(ErrConfiguration, "pot of wager %d overflows", rec.Wager)
	}
	return net(cfg, 2*rec.Wager, receiver, reason)
}

// refundPayout returns player1's single wager minus the fee reserve.
func refundPayout(cfg Config, rec *model.EscrowRecord) (*model.Payout, error) {
	return net(cfg, rec.Wager, rec.Player1, model.PayoutRefund)
}

func net(cfg Config, gross uint64, receiver model.Identity, reason model.PayoutReason) (*model.Payout, error) {
	if cfg.FeeReserve >= gross {
		return nil, errors.Wrapf(ErrConfiguration, "fee reserve %d not below gross payout %d", cfg.FeeReserve, gross)
	}
	if receiver.IsNone() {
		return nil, errors.Wrap(ErrConfiguration, "payout without receiver")
	}
	return &model.Payout{
		Receiver: receiver,
		Amount:   gross - cfg.FeeReserve,
		Reason:   reason,
	}, nil
}
