package simpleentity

import "fmt"

// transition describes one state machine operation.
type transition struct {
	op     string
	target State
	action AuditAction
	// from lists the states the transition may start in; nil means any
	from []State
}

var (
	submitTransition = transition{
		op: "submit", target: StateSubmitted, action: AuditSubmit,
		from: []State{StatePending, StateSubmitted},
	}
	publishTransition = transition{
		op: "publish", target: StatePublished, action: AuditPublish,
	}
	withdrawTransition = transition{
		op: "withdraw", target: StateWithdrawn, action: AuditWithdraw,
	}
	pendingTransition = transition{
		op: "pending", target: StatePending, action: AuditPending,
		from: []State{StatePending, StateSubmitted},
	}
)

// transitionTo returns the transition that moves an entity into target.
func transitionTo(target State) (transition, error) {
	switch target {
	case StateSubmitted:
		return submitTransition, nil
	case StatePublished:
		return publishTransition, nil
	case StateWithdrawn:
		return withdrawTransition, nil
	case StatePending:
		return pendingTransition, nil
	default:
		return transition{}, invalidf("unknown state %q", target)
	}
}

// canTransition checks whether the transition may start in current.
func (t transition) canTransition(current State) error {
	if t.from == nil {
		return nil
	}
	for _, s := range t.from {
		if s == current {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s an entity in state %s", ErrInvalidState, t.op, current)
}

// canMutate checks whether structural changes are allowed in state s.
func canMutate(s State) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: entity is %s and cannot be modified", ErrInvalidState, s)
	}
	return nil
}
