package model

type Identity string

const NoIdentity Identity = ""

func (i Identity) IsNone() bool {
	return i == NoIdentity
}

type TransferKind string

const (
	TransferPayment TransferKind = "payment"
)

// Transfer is a value movement paired with an invocation, as verified by the
// environment that delivered it.
type Transfer struct {
	Kind     TransferKind `json:"kind"`
	Sender   Identity     `json:"sender"`
	Receiver Identity     `json:"receiver"`
	Amount   uint64       `json:"amount"`
}

type PayoutReason string

const (
	PayoutClaim        PayoutReason = "CLAIM"
	PayoutTimeoutClaim PayoutReason = "TIMEOUT_CLAIM"
	PayoutRefund       PayoutReason = "REFUND"
)

// Payout is an outbound transfer instruction out of custody.
type Payout struct {
	Receiver Identity     `json:"receiver"`
	Amount   uint64       `json:"amount"`
	Reason   PayoutReason `json:"reason"`
}
