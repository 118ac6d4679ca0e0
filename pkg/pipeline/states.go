package pipeline

import "github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"

// State is one node of the pipeline state machine.
type State string

const (
	StateIdle          State = "IDLE"
	StateInitializing  State = "INITIALIZING"
	StateBrainstorming State = "BRAINSTORMING"
	StateMapping       State = "MAPPING"
	StateActing        State = "ACTING"
	StateDebriefing    State = "DEBRIEFING"
	StateRollingBack   State = "ROLLING_BACK"
	StatePaused        State = "PAUSED"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
)

// Event triggers a transition.
type Event string

const (
	EventStart     Event = "START"
	EventNextPhase Event = "NEXT_PHASE"
	EventPause     Event = "PAUSE"
	EventResume    Event = "RESUME"
	EventComplete  Event = "COMPLETE"
	EventError     Event = "ERROR"
	EventRetry     Event = "RETRY"
	EventRollback  Event = "ROLLBACK"
	EventSkip      Event = "SKIP"
	EventCancel    Event = "CANCEL"
)

// workingOrder is the phase sequence a run advances through. Progress is
// derived from the index of the last completed phase.
var workingOrder = []State{
	StateInitializing,
	StateBrainstorming,
	StateMapping,
	StateActing,
	StateDebriefing,
}

// Working reports whether s is a phase that executes a unit of work.
func (s State) Working() bool {
	for _, w := range workingOrder {
		if w == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s accepts no further transitions besides
// RETRY out of FAILED.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// phaseIndex returns the position of s in the working order, -1 if s is
// not a working state.
func phaseIndex(s State) int {
	for i, w := range workingOrder {
		if w == s {
			return i
		}
	}
	return -1
}

// nextPhase returns the working state after s, or StateCompleted after
// the last one.
func nextPhase(s State) State {
	i := phaseIndex(s)
	if i < 0 || i+1 >= len(workingOrder) {
		return StateCompleted
	}
	return workingOrder[i+1]
}

// transitions is the static transition table. PAUSED+RESUME is resolved
// dynamically against the run's previous phase (shallow history) and is
// marked here with StatePaused as a placeholder target.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateInitializing,
	},
	StateInitializing: {
		EventNextPhase: StateBrainstorming,
		EventSkip:      StateBrainstorming,
		EventPause:     StatePaused,
		EventRetry:     StateInitializing,
		EventError:     StateFailed,
		EventRollback:  StateRollingBack,
		EventCancel:    StateFailed,
	},
	StateBrainstorming: {
		EventNextPhase: StateMapping,
		EventSkip:      StateMapping,
		EventPause:     StatePaused,
		EventRetry:     StateBrainstorming,
		EventError:     StateFailed,
		EventRollback:  StateRollingBack,
		EventCancel:    StateFailed,
	},
	StateMapping: {
		EventNextPhase: StateActing,
		EventSkip:      StateActing,
		EventPause:     StatePaused,
		EventRetry:     StateMapping,
		EventError:     StateFailed,
		EventRollback:  StateRollingBack,
		EventCancel:    StateFailed,
	},
	StateActing: {
		EventNextPhase: StateDebriefing,
		EventSkip:      StateDebriefing,
		EventPause:     StatePaused,
		EventRetry:     StateActing,
		// Late-phase failures are the ones most likely to need earlier
		// side effects undone.
		EventError:    StateRollingBack,
		EventRollback: StateRollingBack,
		EventCancel:   StateFailed,
	},
	StateDebriefing: {
		EventNextPhase: StateCompleted,
		EventComplete:  StateCompleted,
		EventSkip:      StateCompleted,
		EventPause:     StatePaused,
		EventRetry:     StateDebriefing,
		EventError:     StateFailed,
		EventRollback:  StateRollingBack,
		EventCancel:    StateFailed,
	},
	StateRollingBack: {
		EventComplete: StateMapping,
		EventError:    StateFailed,
		EventCancel:   StateFailed,
	},
	StatePaused: {
		EventResume: StatePaused, // resolved from previousPhase
		EventCancel: StateFailed,
	},
	StateFailed: {
		EventRetry: StateInitializing,
	},
	StateCompleted: {},
}

// next resolves the transition table for (state, event).
func next(s State, ev Event) (State, bool) {
	row, ok := transitions[s]
	if !ok {
		return "", false
	}
	target, ok := row[ev]
	return target, ok
}

var (
	// ErrInvalidTransition is returned when an event is not accepted
	// in the current state.
	ErrInvalidTransition = recovery.NewKindError(recovery.ProtocolKind, "invalid transition")
	// ErrNotRunning is returned by controls that require an active run.
	ErrNotRunning = recovery.NewKindError(recovery.ProtocolKind, "pipeline is not running")
	// ErrWaitTimeout is returned by WaitForState when the target state
	// is not reached in time. Distinct from a pipeline failure.
	ErrWaitTimeout = recovery.NewKindError(recovery.TimeoutKind, "timed out waiting for state")
)
