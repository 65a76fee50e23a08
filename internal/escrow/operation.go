package escrow

import (
	"bytes"
	"fmt"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
)

type OpKind uint8

const (
	OpCreate OpKind = iota + 1
	OpJoin
	OpDeposit
	OpDeclareWinner
	OpClaim
	OpCancel
	OpTimeoutClaim
	OpUpdateMove
	OpTeardown
)

var opNames = map[OpKind]string{
	OpCreate:        "create",
	OpJoin:          "join",
	OpDeposit:       "deposit",
	OpDeclareWinner: "declare_winner",
	OpClaim:         "claim",
	OpCancel:        "cancel",
	OpTimeoutClaim:  "timeout_claim",
	OpUpdateMove:    "update_move",
	OpTeardown:      "teardown",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

func AllOpKinds() []OpKind {
	return []OpKind{
		OpCreate, OpJoin, OpDeposit, OpDeclareWinner, OpClaim,
		OpCancel, OpTimeoutClaim, OpUpdateMove, OpTeardown,
	}
}

func ParseOpKind(name string) (OpKind, error) {
	for kind, n := range opNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOperation, "%q", name)
}

// Operation is one of the closed set of escrow operations below.
type Operation interface {
	Kind() OpKind
	operation()
}

type Create struct {
	Wager  uint64
	GameID []byte
}

type Join struct{}

type Deposit struct{}

type DeclareWinner struct {
	Winner model.Identity
}

type Claim struct{}

type Cancel struct{}

type TimeoutClaim struct{}

type UpdateMove struct{}

type Teardown struct{}

func (Create) Kind() OpKind        { return OpCreate }
func (Join) Kind() OpKind          { return OpJoin }
func (Deposit) Kind() OpKind       { return OpDeposit }
func (DeclareWinner) Kind() OpKind { return OpDeclareWinner }
func (Claim) Kind() OpKind         { return OpClaim }
func (Cancel) Kind() OpKind        { return OpCancel }
func (TimeoutClaim) Kind() OpKind  { return OpTimeoutClaim }
func (UpdateMove) Kind() OpKind    { return OpUpdateMove }
func (Teardown) Kind() OpKind      { return OpTeardown }

func (Create) operation()        {}
func (Join) operation()          {}
func (Deposit) operation()       {}
func (DeclareWinner) operation() {}
func (Claim) operation()         {}
func (Cancel) operation()        {}
func (TimeoutClaim) operation()  {}
func (UpdateMove) operation()    {}
func (Teardown) operation()      {}

// Decode turns the wire form of an invocation into an Operation.
//
// create carries [wager as big-endian integer, game id]. Every other operation
// carries its own name in args[0] when args are present; declare_winner carries
// the winner identity in args[1].
func Decode(name string, args [][]byte) (Operation, error) {
	kind, err := ParseOpKind(name)
	if err != nil {
		return nil, err
	}

	if kind == OpCreate {
		if len(args) != 2 {
			return nil, errors.Wrapf(ErrInvalidArgument, "create expects 2 args, got %d", len(args))
		}
		wager, err := decodeUint(args[0])
		if err != nil {
			return nil, err
		}
		return Create{Wager: wager, GameID: append([]byte{}, args[1]...)}, nil
	}

	if len(args) > 0 && !bytes.Equal(args[0], []byte(name)) {
		return nil, errors.Wrapf(ErrInvalidArgument, "args[0] %q does not name operation %q", args[0], name)
	}

	switch kind {
	case OpJoin:
		return Join{}, nil
	case OpDeposit:
		return Deposit{}, nil
	case OpDeclareWinner:
		if len(args) < 2 || len(args[1]) == 0 {
			return nil, errors.Wrap(ErrInvalidArgument, "declare_winner expects the winner in args[1]")
		}
		return DeclareWinner{Winner: model.Identity(args[1])}, nil
	case OpClaim:
		return Claim{}, nil
	case OpCancel:
		return Cancel{}, nil
	case OpTimeoutClaim:
		return TimeoutClaim{}, nil
	case OpUpdateMove:
		return UpdateMove{}, nil
	case OpTeardown:
		return Teardown{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownOperation, "%q", name)
}

// EncodeUint is the big-endian encoding create expects for the wager, without
// leading zero bytes.
func EncodeUint(v uint64) []byte {
	out := make([]byte, 0, 8)
	started := false
	for shift := 56; shift >= 0; shift -= 8 {
		b := byte(v >> uint(shift))
		if b != 0 || started {
			out = append(out, b)
			started = true
		}
	}
	return out
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, errors.Wrapf(ErrInvalidArgument, "integer of %d bytes exceeds 64 bits", len(b))
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}
