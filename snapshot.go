package ogm

// TupleSnapshot is a read-only view of a record as loaded from a backend.
// Implementations wrap whatever the adapter loaded (a result row, a decoded document).
// The change-tracking layer never writes through a snapshot.
type TupleSnapshot interface {
	// Get returns the value of column, nil when absent.
	Get(column string) any
	// IsEmpty reports whether the snapshot has no columns at all.
	IsEmpty() bool
	// ColumnNames enumerates the columns present in the snapshot.
	ColumnNames() []string
}

// AssociationSnapshot is a read-only view of an association's rows as loaded from a backend.
type AssociationSnapshot interface {
	// Get returns the row stored under key, nil when absent.
	Get(key RowKey) TupleSnapshot
	// ContainsKey reports whether a row is stored under key.
	ContainsKey(key RowKey) bool
	// Size returns the number of rows.
	Size() int
	// RowKeys enumerates the row keys in backend order.
	RowKeys() []RowKey
}

type emptyTupleSnapshot struct{}

// EmptyTupleSnapshot is the snapshot of a record that does not exist in the backend yet.
var EmptyTupleSnapshot TupleSnapshot = emptyTupleSnapshot{}

func (emptyTupleSnapshot) Get(string) any        { return nil }
func (emptyTupleSnapshot) IsEmpty() bool         { return true }
func (emptyTupleSnapshot) ColumnNames() []string { return nil }

// MapTupleSnapshot is a TupleSnapshot backed by a column map.
type MapTupleSnapshot map[string]any

// Get returns the value of column.
func (s MapTupleSnapshot) Get(column string) any {
	return s[column]
}

// IsEmpty reports whether the map holds no column.
func (s MapTupleSnapshot) IsEmpty() bool {
	return len(s) == 0
}

// ColumnNames returns the map keys.
func (s MapTupleSnapshot) ColumnNames() []string {
	r := make([]string, 0, len(s))
	for k := range s {
		r = append(r, k)
	}
	return r
}

// NewKeySnapshot seeds a snapshot with the key's own columns, so that a freshly created
// record answers reads of its id columns without a round trip.
func NewKeySnapshot(key EntityKey) MapTupleSnapshot {
	s := make(MapTupleSnapshot, len(key.ColumnValues))
	for i, c := range key.Metadata.ColumnNames {
		s[c] = key.ColumnValues[i]
	}
	return s
}

type emptyAssociationSnapshot struct{}

// EmptyAssociationSnapshot is the snapshot of an association not stored yet.
var EmptyAssociationSnapshot AssociationSnapshot = emptyAssociationSnapshot{}

func (emptyAssociationSnapshot) Get(RowKey) TupleSnapshot { return nil }
func (emptyAssociationSnapshot) ContainsKey(RowKey) bool  { return false }
func (emptyAssociationSnapshot) Size() int                { return 0 }
func (emptyAssociationSnapshot) RowKeys() []RowKey        { return nil }

// MapAssociationSnapshot is an AssociationSnapshot that keeps rows in load order.
type MapAssociationSnapshot struct {
	keys []RowKey
	rows map[string]TupleSnapshot
}

// NewMapAssociationSnapshot returns an empty snapshot; adapters fill it with Add while decoding.
func NewMapAssociationSnapshot() *MapAssociationSnapshot {
	return &MapAssociationSnapshot{
		rows: make(map[string]TupleSnapshot),
	}
}

// Add appends a row. It is meant for adapters building the snapshot, before handing it out.
func (s *MapAssociationSnapshot) Add(key RowKey, row TupleSnapshot) {
	id := key.ID()
	if _, ok := s.rows[id]; !ok {
		s.keys = append(s.keys, key)
	}
	s.rows[id] = row
}

// Get returns the row stored under key.
func (s *MapAssociationSnapshot) Get(key RowKey) TupleSnapshot {
	if r, ok := s.rows[key.ID()]; ok {
		return r
	}
	return nil
}

// ContainsKey reports whether a row is stored under key.
func (s *MapAssociationSnapshot) ContainsKey(key RowKey) bool {
	_, ok := s.rows[key.ID()]
	return ok
}

// Size returns the number of rows.
func (s *MapAssociationSnapshot) Size() int {
	return len(s.keys)
}

// RowKeys returns the row keys in load order.
func (s *MapAssociationSnapshot) RowKeys() []RowKey {
	return s.keys
}

// RowKeyFromSnapshot builds the row key of a loaded row from the association's row key columns.
func RowKeyFromSnapshot(metadata AssociationKeyMetadata, key AssociationKey, row TupleSnapshot) RowKey {
	values := make([]any, len(metadata.RowKeyColumnNames))
	for i, c := range metadata.RowKeyColumnNames {
		values[i] = metadata.ColumnValue(key, row, c)
	}
	return RowKey{ColumnNames: metadata.RowKeyColumnNames, ColumnValues: values}
}
