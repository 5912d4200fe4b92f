package ogm

import (
	"fmt"
	"sort"
)

// TupleOperationType is the closed set of pending column operations.
type TupleOperationType int

const (
	// Put sets a column to a non-nil value.
	Put TupleOperationType = iota
	// PutNull sets a column to null; backends that distinguish it from a removal may store a tombstone.
	PutNull
	// Remove deletes a column.
	Remove
)

func (t TupleOperationType) String() string {
	switch t {
	case Put:
		return "PUT"
	case PutNull:
		return "PUT_NULL"
	case Remove:
		return "REMOVE"
	}
	return fmt.Sprintf("TupleOperationType(%d)", int(t))
}

// TupleOperation is the latest pending change of one column.
type TupleOperation struct {
	Column string
	Value  any
	Type   TupleOperationType
}

// State is where a Tuple or Association is in its unit of work.
type State int

const (
	// StateNew is a record created in memory, not stored yet.
	StateNew State = iota
	// StateClean is a loaded record without pending changes.
	StateClean
	// StateDirty has pending changes.
	StateDirty
	// StatePersisted was handed to a dialect write; it must not be mutated again.
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateClean:
		return "LOADED-CLEAN"
	case StateDirty:
		return "DIRTY"
	case StatePersisted:
		return "PERSISTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Tuple tracks changes to one record against the snapshot it was loaded with.
// It never touches the backend and is not safe for concurrent use.
type Tuple struct {
	snapshot     TupleSnapshot
	currentState map[string]TupleOperation
	state        State
}

// NewTuple wraps a snapshot loaded from a backend.
func NewTuple(snapshot TupleSnapshot) *Tuple {
	if snapshot == nil {
		snapshot = EmptyTupleSnapshot
	}
	return &Tuple{snapshot: snapshot, state: StateClean}
}

// NewCreatedTuple returns a Tuple for a record that does not exist yet.
// The snapshot typically holds the key columns only.
func NewCreatedTuple(snapshot TupleSnapshot) *Tuple {
	t := NewTuple(snapshot)
	t.state = StateNew
	return t
}

// Snapshot returns the read-only snapshot the Tuple was created with.
func (t *Tuple) Snapshot() TupleSnapshot {
	return t.snapshot
}

// State returns the lifecycle state.
func (t *Tuple) State() State {
	return t.state
}

// MarkPersisted ends the unit of work; further mutations are a programmer error.
func (t *Tuple) MarkPersisted() {
	t.state = StatePersisted
}

// Get returns the pending value of column if any, else the snapshot's.
// PUT_NULL and REMOVE both read as nil.
func (t *Tuple) Get(column string) any {
	if op, ok := t.currentState[column]; ok {
		if op.Type == Put {
			return op.Value
		}
		return nil
	}
	return t.snapshot.Get(column)
}

// Put records a new value for column, replacing any pending operation on it.
// A nil value is recorded as PUT_NULL.
func (t *Tuple) Put(column string, value any) {
	if value == nil {
		t.record(TupleOperation{Column: column, Type: PutNull})
		return
	}
	t.record(TupleOperation{Column: column, Value: value, Type: Put})
}

// Remove records the deletion of column, replacing any pending operation on it.
func (t *Tuple) Remove(column string) {
	t.record(TupleOperation{Column: column, Type: Remove})
}

func (t *Tuple) record(op TupleOperation) {
	if t.state == StatePersisted {
		panic(ContractError(op, "tuple was already persisted, start a new unit of work"))
	}
	if t.currentState == nil {
		t.currentState = make(map[string]TupleOperation)
	}
	t.currentState[op.Column] = op
	t.state = StateDirty
}

// Operations returns the pending operations, one per column, ordered by column name.
func (t *Tuple) Operations() []TupleOperation {
	ops := make([]TupleOperation, 0, len(t.currentState))
	for _, op := range t.currentState {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Column < ops[j].Column })
	return ops
}

// IsEmpty reports whether the tuple has no column at all once pending operations are applied.
func (t *Tuple) IsEmpty() bool {
	return len(t.ColumnNames()) == 0
}

// ColumnNames returns the snapshot's columns adjusted by pending operations:
// PUT and PUT_NULL add a column, REMOVE drops it. Order is unspecified.
func (t *Tuple) ColumnNames() []string {
	seen := make(map[string]struct{})
	r := make([]string, 0)
	for _, c := range t.snapshot.ColumnNames() {
		if op, ok := t.currentState[c]; ok && op.Type == Remove {
			continue
		}
		seen[c] = struct{}{}
		r = append(r, c)
	}
	for c, op := range t.currentState {
		if op.Type == Remove {
			continue
		}
		if _, ok := seen[c]; !ok {
			r = append(r, c)
		}
	}
	return r
}

// Map materializes the tuple's columns; PUT_NULL columns map to nil.
func (t *Tuple) Map() map[string]any {
	names := t.ColumnNames()
	m := make(map[string]any, len(names))
	for _, c := range names {
		m[c] = t.Get(c)
	}
	return m
}

func (t *Tuple) String() string {
	return fmt.Sprintf("Tuple(%v)", t.Map())
}

// SnapshotColumns returns the columns as loaded, ignoring pending operations.
func (t *Tuple) SnapshotColumns() map[string]any {
	names := t.snapshot.ColumnNames()
	m := make(map[string]any, len(names))
	for _, c := range names {
		m[c] = t.snapshot.Get(c)
	}
	return m
}
