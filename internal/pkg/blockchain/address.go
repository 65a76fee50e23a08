package blockchain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/onflow/flow-go-sdk"
)

// NormalizeAddress maps any hex spelling of a Flow address ("0x01", "01",
// "0000000000000001") to its canonical 16 digit form.
func NormalizeAddress(id model.Identity) (model.Identity, error) {
	digits := strings.TrimPrefix(strings.ToLower(string(id)), "0x")
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hex.DecodeString(digits)
	if err != nil || len(raw) > flow.AddressLength {
		return model.NoIdentity, fmt.Errorf("%q is not a flow address", id)
	}

	address := flow.BytesToAddress(raw)
	if address == flow.EmptyAddress {
		return model.NoIdentity, fmt.Errorf("%q is the empty flow address", id)
	}
	return model.Identity(address.Hex()), nil
}
