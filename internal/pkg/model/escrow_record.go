package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Persisted state keys. Each field of the record is independently addressable
// under one of these keys.
const (
	KeyPlayer1   = "player1"
	KeyPlayer2   = "player2"
	KeyWager     = "wager"
	KeyGameID    = "game_id"
	KeyWinner    = "winner"
	KeyStatus    = "status"
	KeyCreatedAt = "created_at"
	KeyLastMove  = "last_move"
	KeyCreator   = "creator"
	KeyFunded    = "funded"
	KeyPaid      = "paid"
	KeyNonce     = "nonce"
	KeyVersion   = "version"
	KeyReceiver  = "payout_receiver"
	KeyAmount    = "payout_amount"
	KeyReason    = "payout_reason"
	KeyReleased  = "released"
)

var stateKeys = []string{
	KeyPlayer1, KeyPlayer2, KeyWager, KeyGameID, KeyWinner, KeyStatus,
	KeyCreatedAt, KeyLastMove, KeyCreator, KeyFunded, KeyPaid,
	KeyNonce, KeyVersion, KeyReceiver, KeyAmount, KeyReason, KeyReleased,
}

// EscrowRecord is the single authoritative record of one escrow session.
type EscrowRecord struct {
	Player1    Identity     `json:"player1"`
	Player2    Identity     `json:"player2"`
	Wager      uint64       `json:"wager"`
	GameID     []byte       `json:"gameId"`
	Winner     Identity     `json:"winner"`
	Status     EscrowStatus `json:"status"`
	CreatedAt  int64        `json:"createdAt"`
	LastMoveAt int64        `json:"lastMoveAt"`
	Creator    Identity     `json:"creator"`
	Funded     bool         `json:"funded"`
	Paid       bool         `json:"paid"`
	// Nonce identifies this record instance. A session id is reused after
	// teardown, a nonce never is.
	Nonce string `json:"nonce"`
	// Version counts committed writes and guards concurrent writers.
	Version uint64 `json:"version"`
	// Payout is the outbound transfer decided for this record. It stays
	// pending until Released.
	Payout   *Payout `json:"payout,omitempty"`
	Released bool    `json:"released"`
}

func (r *EscrowRecord) Clone() *EscrowRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.GameID != nil {
		c.GameID = append([]byte{}, r.GameID...)
	}
	if r.Payout != nil {
		p := *r.Payout
		c.Payout = &p
	}
	return &c
}

func (r *EscrowRecord) IsPlayer(id Identity) bool {
	if id.IsNone() {
		return false
	}
	return id == r.Player1 || id == r.Player2
}

// HoldsFunds reports whether any deposit is still in custody.
func (r *EscrowRecord) HoldsFunds() bool {
	if r.PendingRelease() {
		return true
	}
	switch r.Status {
	case EscrowWaiting:
		return r.Funded
	case EscrowActive:
		return true
	case EscrowComplete:
		return !r.Paid
	}
	return false
}

// PendingRelease reports whether a decided payout has not reached custody yet.
func (r *EscrowRecord) PendingRelease() bool {
	return r.Payout != nil && !r.Released
}

// Validate checks the record invariants that must hold after every committed
// transition.
func (r *EscrowRecord) Validate() error {
	if r.Wager == 0 {
		return errors.New("wager must be positive")
	}
	if r.Player1.IsNone() {
		return errors.New("player1 is not set")
	}
	switch r.Status {
	case EscrowWaiting, EscrowCancelled:
		if !r.Player2.IsNone() {
			return fmt.Errorf("player2 set while %s", r.Status)
		}
		if !r.Winner.IsNone() {
			return fmt.Errorf("winner set while %s", r.Status)
		}
	case EscrowActive:
		if r.Player2.IsNone() {
			return errors.New("player2 missing while ACTIVE")
		}
		if !r.Winner.IsNone() {
			return errors.New("winner set while ACTIVE")
		}
	case EscrowComplete:
		if r.Player2.IsNone() {
			return errors.New("player2 missing while COMPLETE")
		}
		if !r.IsPlayer(r.Winner) {
			return fmt.Errorf("winner %q is not a player", r.Winner)
		}
	default:
		return fmt.Errorf("unknown status %d", r.Status)
	}
	if r.Player2 == r.Player1 {
		return errors.New("player2 equals player1")
	}
	if r.Paid && r.Status != EscrowComplete && r.Status != EscrowCancelled {
		return fmt.Errorf("paid while %s", r.Status)
	}
	if r.Status >= EscrowActive && r.Status != EscrowCancelled && !r.Funded {
		return fmt.Errorf("player1 deposit missing while %s", r.Status)
	}
	if r.Payout != nil && !r.Paid {
		return errors.New("payout recorded before paid")
	}
	if r.Released && r.Payout == nil {
		return errors.New("released without payout")
	}
	return nil
}

// State renders the record in its persisted key-value layout.
func (r *EscrowRecord) State() map[string]string {
	state := map[string]string{
		KeyPlayer1:   string(r.Player1),
		KeyPlayer2:   string(r.Player2),
		KeyWager:     strconv.FormatUint(r.Wager, 10),
		KeyGameID:    hex.EncodeToString(r.GameID),
		KeyWinner:    string(r.Winner),
		KeyStatus:    strconv.FormatUint(uint64(r.Status), 10),
		KeyCreatedAt: strconv.FormatInt(r.CreatedAt, 10),
		KeyLastMove:  strconv.FormatInt(r.LastMoveAt, 10),
		KeyCreator:   string(r.Creator),
		KeyFunded:    formatBool(r.Funded),
		KeyPaid:      formatBool(r.Paid),
		KeyNonce:     r.Nonce,
		KeyVersion:   strconv.FormatUint(r.Version, 10),
		KeyReceiver:  "",
		KeyAmount:    "0",
		KeyReason:    "",
		KeyReleased:  formatBool(r.Released),
	}
	if r.Payout != nil {
		state[KeyReceiver] = string(r.Payout.Receiver)
		state[KeyAmount] = strconv.FormatUint(r.Payout.Amount, 10)
		state[KeyReason] = string(r.Payout.Reason)
	}
	return state
}

// RecordFromState parses the persisted key-value layout. Every key must be
// present.
func RecordFromState(state map[string]string) (*EscrowRecord, error) {
	for _, k := range stateKeys {
		if _, ok := state[k]; !ok {
			return nil, fmt.Errorf("state key %q missing", k)
		}
	}

	wager, err := strconv.ParseUint(state[KeyWager], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyWager, err)
	}
	gameId, err := hex.DecodeString(state[KeyGameID])
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyGameID, err)
	}
	status, err := strconv.ParseUint(state[KeyStatus], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyStatus, err)
	}
	createdAt, err := strconv.ParseInt(state[KeyCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyCreatedAt, err)
	}
	lastMove, err := strconv.ParseInt(state[KeyLastMove], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyLastMove, err)
	}
	funded, err := parseBool(state[KeyFunded])
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyFunded, err)
	}
	paid, err := parseBool(state[KeyPaid])
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyPaid, err)
	}
	version, err := strconv.ParseUint(state[KeyVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyVersion, err)
	}
	released, err := parseBool(state[KeyReleased])
	if err != nil {
		return nil, fmt.Errorf("state key %q: %w", KeyReleased, err)
	}
	var payout *Payout
	if state[KeyReason] != "" {
		amount, err := strconv.ParseUint(state[KeyAmount], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("state key %q: %w", KeyAmount, err)
		}
		payout = &Payout{
			Receiver: Identity(state[KeyReceiver]),
			Amount:   amount,
			Reason:   PayoutReason(state[KeyReason]),
		}
	}

	return &EscrowRecord{
		Player1:    Identity(state[KeyPlayer1]),
		Player2:    Identity(state[KeyPlayer2]),
		Wager:      wager,
		GameID:     gameId,
		Winner:     Identity(state[KeyWinner]),
		Status:     EscrowStatus(status),
		CreatedAt:  createdAt,
		LastMoveAt: lastMove,
		Creator:    Identity(state[KeyCreator]),
		Funded:     funded,
		Paid:       paid,
		Nonce:      state[KeyNonce],
		Version:    version,
		Payout:     payout,
		Released:   released,
	}, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}
