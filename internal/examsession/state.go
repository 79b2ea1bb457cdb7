package examsession

// State is the lifecycle position of an exam session.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateExpired    State = "expired"
)

var transitions = map[State][]State{
	StateIdle:       {StateLoading},
	StateLoading:    {StateReady, StateIdle},
	StateReady:      {StateActive, StateExpired, StateIdle},
	StateActive:     {StateSubmitting, StateExpired, StateIdle},
	StateExpired:    {StateSubmitting, StateIdle},
	StateSubmitting: {StateCompleted, StateActive, StateExpired},
	StateCompleted:  {StateIdle, StateLoading},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HostEvent is a lifecycle signal published by the host environment.
type HostEvent string

const (
	EventBackgrounded  HostEvent = "backgrounded"
	EventNavigatedAway HostEvent = "navigated_away"
)
