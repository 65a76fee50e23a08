package escrow

import (
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

// The guard functions decide whether caller may invoke an operation against
// rec. They read the record and never mutate it.

func requirePlayer1(rec *model.EscrowRecord, caller model.Identity, op OpKind) error {
	if caller.IsNone() || caller != rec.Player1 {
		return errors.Wrapf(ErrUnauthorized, "%s: caller %q is not player1", op, caller)
	}
	return nil
}

func requireJoiner(rec *model.EscrowRecord, caller model.Identity) error {
	if caller.IsNone() || caller == rec.Player1 {
		return errors.Wrapf(ErrUnauthorized, "join: caller %q may not join its own game", caller)
	}
	return nil
}

func requirePlayer(rec *model.EscrowRecord, caller model.Identity, op OpKind) error {
	if !rec.IsPlayer(caller) {
		return errors.Wrapf(ErrUnauthorized, "%s: caller %q is not a player", op, caller)
	}
	return nil
}

func requireWinner(rec *model.EscrowRecord, caller model.Identity) error {
	if caller.IsNone() || caller != rec.Winner {
		return errors.Wrapf(ErrUnauthorized, "claim: caller %q is not the winner", caller)
	}
	return nil
}

// requireReporter admits the configured reporter, and the record's creator
// when the creator override is enabled.
func requireReporter(cfg Config, rec *model.EscrowRecord, caller model.Identity, op OpKind) error {
	if caller.IsNone() {
		return errors.Wrapf(ErrUnauthorized, "%s: anonymous caller", op)
	}
	if caller == cfg.Reporter {
		return nil
	}
	if cfg.CreatorOverride && caller == rec.Creator {
		return nil
	}
	return errors.Wrapf(ErrUnauthorized, "%s: caller %q is not the reporter", op, caller)
}

func requireCreator(rec *model.EscrowRecord, caller model.Identity, op OpKind) error {
	if caller.IsNone() || caller != rec.Creator {
		return errors.Wrapf(ErrUnauthorized, "%s: caller %q is not the creator", op, caller)
	}
	return nil
}
