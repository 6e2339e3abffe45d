package transform

import (
	"sync"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// State of a transform run.
type State string

const (
	StateIdle            State = "idle"
	StateParsing         State = "parsing"
	StateNormalizing     State = "normalizing"
	StateSplitting       State = "splitting"
	StateWriting         State = "writing"
	StateAcquiringImages State = "acquiring_images"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// ErrInvalidTransition is returned when a run moves to a state not reachable from its current one.
var ErrInvalidTransition = errors.New("invalid state transition")

var sequence = []State{
	StateIdle,
	StateParsing,
	StateNormalizing,
	StateSplitting,
	StateWriting,
	StateAcquiringImages,
	StateDone,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is a state entered by a run.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// stateMachine validates transitions against the graph of allowed moves: the sequence of stages,
// and a move to failed from any stage that is not terminal.
type stateMachine struct {
	mu      sync.Mutex
	moves   graph.Graph[State, State]
	current State
	history []Transition
}

func newStateMachine() (*stateMachine, error) {
	moves := graph.New(func(s State) State { return s }, graph.Directed())
	for _, s := range sequence {
		if err := moves.AddVertex(s); err != nil {
			return nil, errors.Wrapf(err, "unable to add state %s", s)
		}
	}
	if err := moves.AddVertex(StateFailed); err != nil {
		return nil, errors.Wrap(err, "unable to add failed state")
	}
	for i := 1; i < len(sequence); i++ {
		if err := moves.AddEdge(sequence[i-1], sequence[i]); err != nil {
			return nil, errors.Wrapf(err, "unable to add move to %s", sequence[i])
		}
	}
	for _, s := range sequence {
		if s.Terminal() {
			continue
		}
		if err := moves.AddEdge(s, StateFailed); err != nil {
			return nil, errors.Wrapf(err, "unable to add failure from %s", s)
		}
	}

	return &stateMachine{
		moves:   moves,
		current: StateIdle,
		history: []Transition{{State: StateIdle, At: time.Now()}},
	}, nil
}

// to moves the machine to next and returns the state it left.
func (sm *stateMachine) to(next State) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, err := sm.moves.Edge(sm.current, next); err != nil {
		if errors.Is(err, graph.ErrEdgeNotFound) {
			return sm.current, errors.Wrapf(ErrInvalidTransition, "%s to %s", sm.current, next)
		}

		return sm.current, errors.Wrap(err, "unable to check transition")
	}
	prev := sm.current
	sm.current = next
	sm.history = append(sm.history, Transition{State: next, At: time.Now()})

	return prev, nil
}

func (sm *stateMachine) state() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.current
}

func (sm *stateMachine) transitions() []Transition {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return append([]Transition(nil), sm.history...)
}
