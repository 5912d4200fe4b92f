package ogm

import "fmt"

// AssociationOperationType is the closed set of pending association operations.
type AssociationOperationType int

const (
	// PutRow stores a row under a row key.
	PutRow AssociationOperationType = iota
	// RemoveRow deletes the row stored under a row key.
	RemoveRow
	// Clear discards every stored row; it is surfaced once, before any per-row operation.
	Clear
)

func (t AssociationOperationType) String() string {
	switch t {
	case PutRow:
		return "PUT"
	case RemoveRow:
		return "REMOVE"
	case Clear:
		return "CLEAR"
	}
	return fmt.Sprintf("AssociationOperationType(%d)", int(t))
}

// AssociationOperation is the latest pending change of one row, or the CLEAR pseudo-operation.
type AssociationOperation struct {
	Key   RowKey
	Value *Tuple
	Type  AssociationOperationType
}

// Association tracks changes to a collection of rows against the snapshot it was loaded with.
// It never touches the backend and is not safe for concurrent use.
type Association struct {
	snapshot     AssociationSnapshot
	currentState map[string]AssociationOperation
	// order keeps per-row operations in the order they were first recorded.
	order   []string
	cleared bool
	state   State
}

// NewAssociation wraps a snapshot loaded from a backend.
func NewAssociation(snapshot AssociationSnapshot) *Association {
	if snapshot == nil {
		snapshot = EmptyAssociationSnapshot
	}
	return &Association{snapshot: snapshot, state: StateClean}
}

// NewCreatedAssociation returns an Association not stored yet.
func NewCreatedAssociation() *Association {
	a := NewAssociation(EmptyAssociationSnapshot)
	a.state = StateNew
	return a
}

// Snapshot returns the read-only snapshot.
func (a *Association) Snapshot() AssociationSnapshot {
	return a.snapshot
}

// State returns the lifecycle state.
func (a *Association) State() State {
	return a.state
}

// MarkPersisted ends the unit of work; further mutations are a programmer error.
func (a *Association) MarkPersisted() {
	a.state = StatePersisted
}

// IsCleared reports whether Clear was called in this unit of work.
func (a *Association) IsCleared() bool {
	return a.cleared
}

// Get returns the row for key: a pending PUT wins, a pending REMOVE or a prior Clear hides the snapshot row.
func (a *Association) Get(key RowKey) *Tuple {
	if op, ok := a.currentState[key.ID()]; ok {
		if op.Type == PutRow {
			return op.Value
		}
		return nil
	}
	if a.cleared {
		return nil
	}
	if row := a.snapshot.Get(key); row != nil {
		return NewTuple(row)
	}
	return nil
}

// Put records a row, replacing any pending operation on its key. After Clear, it resurrects exactly that key.
func (a *Association) Put(key RowKey, value *Tuple) {
	if value == nil {
		a.Remove(key)
		return
	}
	a.record(AssociationOperation{Key: key, Value: value, Type: PutRow})
}

// Remove records the deletion of the row under key, replacing any pending operation on it.
func (a *Association) Remove(key RowKey) {
	a.record(AssociationOperation{Key: key, Type: RemoveRow})
}

// Clear discards the snapshot and every operation recorded so far.
func (a *Association) Clear() {
	a.checkMutable("clear")
	a.cleared = true
	a.currentState = nil
	a.order = nil
	a.state = StateDirty
}

func (a *Association) record(op AssociationOperation) {
	a.checkMutable(op)
	if a.currentState == nil {
		a.currentState = make(map[string]AssociationOperation)
	}
	id := op.Key.ID()
	if _, ok := a.currentState[id]; !ok {
		a.order = append(a.order, id)
	}
	a.currentState[id] = op
	a.state = StateDirty
}

func (a *Association) checkMutable(input any) {
	if a.state == StatePersisted {
		panic(ContractError(input, "association was already persisted, start a new unit of work"))
	}
}

// Operations returns CLEAR first when present, then the per-row operations in recording order.
func (a *Association) Operations() []AssociationOperation {
	ops := make([]AssociationOperation, 0, len(a.order)+1)
	if a.cleared {
		ops = append(ops, AssociationOperation{Type: Clear})
	}
	for _, id := range a.order {
		ops = append(ops, a.currentState[id])
	}
	return ops
}

// inSnapshot reports whether key is visible from the snapshot, i.e. stored and not cleared.
func (a *Association) inSnapshot(key RowKey) bool {
	return !a.cleared && a.snapshot.ContainsKey(key)
}

// Size is computed from the snapshot size and the effect of each pending operation,
// without enumerating the snapshot.
func (a *Association) Size() int {
	size := 0
	if !a.cleared {
		size = a.snapshot.Size()
	}
	for _, id := range a.order {
		op := a.currentState[id]
		stored := a.inSnapshot(op.Key)
		switch op.Type {
		case PutRow:
			if !stored {
				size++
			}
		case RemoveRow:
			if stored {
				size--
			}
		}
	}
	return size
}

// IsEmpty reports whether Size is zero.
func (a *Association) IsEmpty() bool {
	return a.Size() == 0
}

// Keys enumerates the visible row keys: snapshot rows not removed nor cleared, then new rows.
func (a *Association) Keys() []RowKey {
	keys := make([]RowKey, 0, a.Size())
	if !a.cleared {
		for _, k := range a.snapshot.RowKeys() {
			if op, ok := a.currentState[k.ID()]; ok && op.Type == RemoveRow {
				continue
			}
			keys = append(keys, k)
		}
	}
	for _, id := range a.order {
		op := a.currentState[id]
		if op.Type == PutRow && !a.inSnapshot(op.Key) {
			keys = append(keys, op.Key)
		}
	}
	return keys
}

func (a *Association) String() string {
	return fmt.Sprintf("Association(size=%d, cleared=%v, operations=%d)", a.Size(), a.cleared, len(a.order))
}
