package ingest

// State is the persisted position of a batch in the import state machine.
type State string

// Batch states in forward order. StateCompleted and StateError are terminal.
const (
	StateStarted                 State = "started"
	StateProcessStarted          State = "process.started"
	StateProcessCompleted        State = "process.completed"
	StateImportStarted           State = "import.started"
	StateImportCompleted         State = "import.completed"
	StateSimilaritySyncStarted   State = "similarity.sync.started"
	StateSimilaritySyncCompleted State = "similarity.sync.completed"
	StateCompleted               State = "completed"
	StateError                   State = "error"
)

// States lists every state in forward order followed by StateError.
var States = []State{
	StateStarted,
	StateProcessStarted,
	StateProcessCompleted,
	StateImportStarted,
	StateImportCompleted,
	StateSimilaritySyncStarted,
	StateSimilaritySyncCompleted,
	StateCompleted,
	StateError,
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// NonTerminalStates returns every state a scheduler may still need to visit.
func NonTerminalStates() []State {
	out := make([]State, 0, len(States))
	for _, s := range States {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}
