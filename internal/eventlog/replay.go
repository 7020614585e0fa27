package eventlog

import "encoding/json"

// Transition applies one decoded event to a state value and returns the
// resulting state. Aggregates implement this as a pure function so it can
// be replayed deterministically from any point in the log.
type Transition[S any] func(state S, eventType string, payload json.RawMessage) (S, error)

// Replay folds a stream of events over an initial state using transition,
// returning the resulting state and the sequence it reflects.
func Replay[S any](initial S, events []Event, transition Transition[S]) (S, int64, error) {
	state := initial
	var seq int64
	for _, e := range events {
		next, err := transition(state, e.EventType, e.Payload)
		if err != nil {
			return state, seq, err
		}
		state = next
		seq = e.Sequence
	}
	return state, seq, nil
}
