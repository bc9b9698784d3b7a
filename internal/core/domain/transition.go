package domain

// Transition classifies a requested status change against the current status.
type Transition int

const (
	// TransitionApply means the change moves the record forward and must be written.
	TransitionApply Transition = iota
	// TransitionNoop means the record already reflects the change.
	TransitionNoop
	// TransitionInvalid means the change would leave a terminal state.
	TransitionInvalid
)

func (t Transition) String() string {
	switch t {
	case TransitionApply:
		return "apply"
	case TransitionNoop:
		return "noop"
	}
	return "invalid"
}
