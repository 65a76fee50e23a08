package escrow

import (
	"math"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

// call is one authenticated invocation against a session's record.
type call struct {
	op        Operation
	caller    model.Identity
	now       int64
	transfers []model.Transfer
	// nonce names the record a create would start.
	nonce string
}

// transition is the outcome of an accepted call. next is nil when the record
// is torn down.
type transition struct {
	next   *model.EscrowRecord
	payout *model.Payout
	remove bool
}

// route applies c to rec and returns the resulting transition. rec is nil when
// the session has no record yet. rec itself is never modified, so a rejected
// call leaves no trace.
func route(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if c.now > cfg.maxTimestamp() {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: timestamp %d out of range", c.op.Kind(), c.now)
	}
	if _, ok := c.op.(Create); !ok && rec == nil {
		return nil, errors.Wrapf(ErrNoRecord, "%s", c.op.Kind())
	}

	switch op := c.op.(type) {
	case Create:
		return create(cfg, rec, c, op)
	case Join:
		return join(cfg, rec.Clone(), c)
	case Deposit:
		return deposit(cfg, rec.Clone(), c)
	case DeclareWinner:
		return declareWinner(cfg, rec.Clone(), c, op)
	case Claim:
		return claim(cfg, rec.Clone(), c)
	case Cancel:
		return cancel(cfg, rec.Clone(), c)
	case TimeoutClaim:
		return timeoutClaim(cfg, rec.Clone(), c)
	case UpdateMove:
		return updateMove(cfg, rec.Clone(), c)
	case Teardown:
		return teardown(rec, c)
	}
	return nil, errors.Wrapf(ErrUnknownOperation, "%T", c.op)
}

func create(cfg Config, rec *model.EscrowRecord, c call, op Create) (*transition, error) {
	if rec != nil {
		return nil, errors.Wrap(ErrStateMismatch, "create: escrow record already exists")
	}
	if c.caller.IsNone() {
		return nil, errors.Wrap(ErrUnauthorized, "create: anonymous caller")
	}
	if op.Wager == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "create: wager must be positive")
	}
	if op.Wager <= cfg.FeeReserve {
		return nil, errors.Wrapf(ErrInvalidArgument, "create: wager %d must exceed fee reserve %d", op.Wager, cfg.FeeReserve)
	}
	if op.Wager > (^uint64(0))/2 {
		return nil, errors.Wrapf(ErrInvalidArgument, "create: pot of wager %d overflows", op.Wager)
	}

	next := &model.EscrowRecord{
		Player1:    c.caller,
		Player2:    model.NoIdentity,
		Wager:      op.Wager,
		GameID:     append([]byte{}, op.GameID...),
		Winner:     model.NoIdentity,
		Status:     model.EscrowWaiting,
		CreatedAt:  c.now,
		LastMoveAt: c.now,
		Creator:    c.caller,
		Nonce:      c.nonce,
	}

	switch len(c.transfers) {
	case 0:
	case 1:
		if err := verifyDeposit(cfg, next, c); err != nil {
			return nil, err
		}
		next.Funded = true
	default:
		return nil, errors.Wrapf(ErrPaymentMismatch, "create: expected at most one paired transfer, got %d", len(c.transfers))
	}

	return &transition{next: next}, nil
}

func join(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if err := permit(rec, eventJoin); err != nil {
		return nil, err
	}
	if err := requireJoiner(rec, c.caller); err != nil {
		return nil, err
	}
	if !rec.Player2.IsNone() {
		return nil, errors.Wrap(ErrStateMismatch, "join: player2 slot taken")
	}
	if !rec.Funded {
		return nil, errors.Wrap(ErrStateMismatch, "join: player1 has not deposited")
	}
	if err := verifyDeposit(cfg, rec, c); err != nil {
		return nil, err
	}

	status, err := advance(rec, eventJoin)
	if err != nil {
		return nil, err
	}
	rec.Player2 = c.caller
	rec.Status = status
	rec.LastMoveAt = c.now
	return &transition{next: rec}, nil
}

func deposit(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if err := requirePlayer1(rec, c.caller, OpDeposit); err != nil {
		return nil, err
	}
	if rec.Status != model.EscrowWaiting {
		return nil, errors.Wrapf(ErrStateMismatch, "deposit: not allowed while %s", rec.Status)
	}
	if rec.Funded {
		return nil, errors.Wrap(ErrStateMismatch, "deposit: wager already deposited")
	}
	if err := verifyDeposit(cfg, rec, c); err != nil {
		return nil, err
	}

	rec.Funded = true
	return &transition{next: rec}, nil
}

func declareWinner(cfg Config, rec *model.EscrowRecord, c call, op DeclareWinner) (*transition, error) {
	if err := requireReporter(cfg, rec, c.caller, OpDeclareWinner); err != nil {
		return nil, err
	}
	if err := permit(rec, eventDeclareWinner); err != nil {
		return nil, err
	}
	if !rec.IsPlayer(op.Winner) {
		return nil, errors.Wrapf(ErrInvalidArgument, "declare_winner: %q is not a player", op.Winner)
	}

	status, err := advance(rec, eventDeclareWinner)
	if err != nil {
		return nil, err
	}
	rec.Winner = op.Winner
	rec.Status = status
	return &transition{next: rec}, nil
}

func claim(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if rec.Status != model.EscrowComplete {
		return nil, errors.Wrapf(ErrStateMismatch, "claim: not allowed while %s", rec.Status)
	}
	if err := requireWinner(rec, c.caller); err != nil {
		return nil, err
	}
	if rec.Paid {
		return nil, errors.Wrap(ErrAlreadyPaid, "claim")
	}

	payout, err := potPayout(cfg, rec, c.caller, model.PayoutClaim)
	if err != nil {
		return nil, err
	}
	rec.Paid = true
	rec.Payout = payout
	return &transition{next: rec, payout: payout}, nil
}

func cancel(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if err := requirePlayer1(rec, c.caller, OpCancel); err != nil {
		return nil, err
	}
	if err := permit(rec, eventCancel); err != nil {
		return nil, err
	}
	until, err := deadline(rec.CreatedAt, cfg.joinTimeoutSeconds())
	if err != nil {
		return nil, errors.Wrap(err, "cancel")
	}
	if c.now <= until {
		return nil, errors.Wrapf(ErrTimeoutNotElapsed, "cancel: allowed after %d, now %d", until, c.now)
	}

	var payout *model.Payout
	if rec.Funded {
		if payout, err = refundPayout(cfg, rec); err != nil {
			return nil, err
		}
	}

	status, err := advance(rec, eventCancel)
	if err != nil {
		return nil, err
	}
	rec.Status = status
	rec.Paid = true
	rec.Payout = payout
	return &transition{next: rec, payout: payout}, nil
}

func timeoutClaim(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if err := permit(rec, eventTimeoutClaim); err != nil {
		return nil, err
	}
	if err := requirePlayer(rec, c.caller, OpTimeoutClaim); err != nil {
		return nil, err
	}
	until, err := deadline(rec.LastMoveAt, cfg.abandonTimeoutSeconds())
	if err != nil {
		return nil, errors.Wrap(err, "timeout_claim")
	}
	if c.now <= until {
		return nil, errors.Wrapf(ErrTimeoutNotElapsed, "timeout_claim: allowed after %d, now %d", until, c.now)
	}

	payout, err := potPayout(cfg, rec, c.caller, model.PayoutTimeoutClaim)
	if err != nil {
		return nil, err
	}
	status, err := advance(rec, eventTimeoutClaim)
	if err != nil {
		return nil, err
	}
	rec.Winner = c.caller
	rec.Status = status
	rec.Paid = true
	rec.Payout = payout
	return &transition{next: rec, payout: payout}, nil
}

func updateMove(cfg Config, rec *model.EscrowRecord, c call) (*transition, error) {
	if err := requireReporter(cfg, rec, c.caller, OpUpdateMove); err != nil {
		return nil, err
	}
	if rec.Status != model.EscrowActive {
		return nil, errors.Wrapf(ErrStateMismatch, "update_move: not allowed while %s", rec.Status)
	}

	rec.LastMoveAt = c.now
	return &transition{next: rec}, nil
}

func teardown(rec *model.EscrowRecord, c call) (*transition, error) {
	if err := requireCreator(rec, c.caller, OpTeardown); err != nil {
		return nil, err
	}
	if rec.HoldsFunds() {
		return nil, errors.Wrapf(ErrStateMismatch, "teardown: funds still in custody while %s", rec.Status)
	}
	return &transition{remove: true}, nil
}

// deadline returns base+timeout, refusing sums past int64.
func deadline(base, timeout int64) (int64, error) {
	if base > math.MaxInt64-timeout {
		return 0, errors.Wrapf(ErrInvalidArgument, "deadline of timestamp %d overflows", base)
	}
	return base + timeout, nil
}

// verifyDeposit checks the single paired transfer that must accompany join and
// deposit: a payment of exactly the wager from the caller into custody.
func verifyDeposit(cfg Config, rec *model.EscrowRecord, c call) error {
	op := c.op.Kind()
	if len(c.transfers) != 1 {
		return errors.Wrapf(ErrPaymentMismatch, "%s: expected one paired transfer, got %d", op, len(c.transfers))
	}
	t := c.transfers[0]
	if t.Kind != model.TransferPayment {
		return errors.Wrapf(ErrPaymentMismatch, "%s: transfer kind %q", op, t.Kind)
	}
	if t.Receiver != cfg.Custody {
		return errors.Wrapf(ErrPaymentMismatch, "%s: transfer addressed to %q, not custody", op, t.Receiver)
	}
	if t.Sender != c.caller {
		return errors.Wrapf(ErrPaymentMismatch, "%s: transfer sent by %q, not caller", op, t.Sender)
	}
	if t.Amount != rec.Wager {
		return errors.Wrapf(ErrPaymentMismatch, "%s: transfer of %d, wager is %d", op, t.Amount, rec.Wager)
	}
	return nil
}
