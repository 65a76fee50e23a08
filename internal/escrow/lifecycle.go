package escrow

import (
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

const (
	eventJoin          = "join"
	eventDeclareWinner = "declare_winner"
	eventTimeoutClaim  = "timeout_claim"
	eventCancel        = "cancel"
)

// lifecycleEvents is the complete set of status transitions. Anything not
// listed here, including every backward move, is refused.
var lifecycleEvents = fsm.Events{
	{Name: eventJoin, Src: []string{model.EscrowWaiting.String()}, Dst: model.EscrowActive.String()},
	{Name: eventDeclareWinner, Src: []string{model.EscrowActive.String()}, Dst: model.EscrowComplete.String()},
	{Name: eventTimeoutClaim, Src: []string{model.EscrowActive.String()}, Dst: model.EscrowComplete.String()},
	{Name: eventCancel, Src: []string{model.EscrowWaiting.String()}, Dst: model.EscrowCancelled.String()},
}

func newLifecycle(status model.EscrowStatus) *fsm.FSM {
	return fsm.NewFSM(status.String(), lifecycleEvents, fsm.Callbacks{})
}

// permit checks that event may fire from the record's status without firing it.
func permit(rec *model.EscrowRecord, event string) error {
	if !newLifecycle(rec.Status).Can(event) {
		return errors.Wrapf(ErrStateMismatch, "%s not allowed while %s", event, rec.Status)
	}
	return nil
}

// advance fires event and returns the resulting status.
func advance(rec *model.EscrowRecord, event string) (model.EscrowStatus, error) {
	lc := newLifecycle(rec.Status)
	if err := lc.Event(event); err != nil {
		return rec.Status, errors.Wrapf(ErrStateMismatch, "%s while %s: %v", event, rec.Status, err)
	}
	next, err := model.ParseEscrowStatus(lc.Current())
	if err != nil {
		return rec.Status, errors.Wrap(ErrConfiguration, err.Error())
	}
	return next, nil
}
