package model

import "fmt"

type EscrowStatus uint8

const (
	EscrowWaiting   EscrowStatus = 0
	EscrowActive    EscrowStatus = 1
	EscrowComplete  EscrowStatus = 2
	EscrowCancelled EscrowStatus = 3
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowWaiting:
		return "WAITING"
	case EscrowActive:
		return "ACTIVE"
	case EscrowComplete:
		return "COMPLETE"
	case EscrowCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ParseEscrowStatus is the inverse of String.
func ParseEscrowStatus(name string) (EscrowStatus, error) {
	for _, s := range []EscrowStatus{EscrowWaiting, EscrowActive, EscrowComplete, EscrowCancelled} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown escrow status %q", name)
}

func (s EscrowStatus) Terminal() bool {
	return s == EscrowCancelled
}

func (s EscrowStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
