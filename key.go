package ogm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EntityKeyMetadata names the table of an entity and its key columns.
type EntityKeyMetadata struct {
	Table       string
	ColumnNames []string
}

// IsKeyColumn reports whether column is one of the key columns.
func (m EntityKeyMetadata) IsKeyColumn(column string) bool {
	return indexOf(m.ColumnNames, column) >= 0
}

// Equal compares two metadata structurally.
func (m EntityKeyMetadata) Equal(o EntityKeyMetadata) bool {
	return m.Table == o.Table && equalStrings(m.ColumnNames, o.ColumnNames)
}

// EntityKey identifies one record: table plus ordered column name/value pairs.
// Keys are immutable; do not modify ColumnValues after construction.
type EntityKey struct {
	Metadata     EntityKeyMetadata
	ColumnValues []any
}

// NewEntityKey validates and returns an EntityKey.
func NewEntityKey(metadata EntityKeyMetadata, values []any) (EntityKey, error) {
	if len(metadata.ColumnNames) != len(values) {
		return EntityKey{}, ContractError(values, "entity key on table %q has %d column names but %d values",
			metadata.Table, len(metadata.ColumnNames), len(values))
	}
	return EntityKey{Metadata: metadata, ColumnValues: values}, nil
}

// Table returns the key's table name.
func (k EntityKey) Table() string {
	return k.Metadata.Table
}

// ColumnNames returns the key's column names.
func (k EntityKey) ColumnNames() []string {
	return k.Metadata.ColumnNames
}

// ColumnValue returns the value of a key column, false when column is not part of the key.
func (k EntityKey) ColumnValue(column string) (any, bool) {
	i := indexOf(k.Metadata.ColumnNames, column)
	if i < 0 {
		return nil, false
	}
	return k.ColumnValues[i], true
}

// Equal compares two keys structurally.
func (k EntityKey) Equal(o EntityKey) bool {
	return k.Metadata.Equal(o.Metadata) && equalValues(k.ColumnValues, o.ColumnValues)
}

func (k EntityKey) String() string {
	return formatKey("EntityKey", k.Metadata.Table, k.Metadata.ColumnNames, k.ColumnValues)
}

// AssociationKind tells whether an association links entities or embeds a collection of values.
type AssociationKind int

const (
	// EntityAssociation links the owner to other entities.
	EntityAssociation AssociationKind = iota
	// EmbeddedCollection holds element collections owned by the entity.
	EmbeddedCollection
)

// AssociationType is the collection semantics of an association.
type AssociationType int

const (
	Set AssociationType = iota
	Bag
	List
	Map
)

// AssociationKeyMetadata describes where an association lives and which columns form its row keys.
type AssociationKeyMetadata struct {
	Table string
	// ColumnNames are the owning key columns, implicit in the location of each row.
	ColumnNames []string
	// RowKeyColumnNames identify a row within the association; they include ColumnNames.
	RowKeyColumnNames []string
	// RowKeyIndexColumnNames are the list index or map key columns, if any.
	RowKeyIndexColumnNames []string
	// AssociatedEntityKeyMetadata describes the key of the entity at the other end.
	AssociatedEntityKeyMetadata EntityKeyMetadata
	CollectionRole              string
	Kind                        AssociationKind
	Type                        AssociationType
	// Inverse marks the non-owning side of a bidirectional link. It is never written.
	Inverse bool
}

// IsInverse reports whether the association is the non-owning side of a bidirectional link.
func (m AssociationKeyMetadata) IsInverse() bool {
	return m.Inverse
}

// IsKeyColumn reports whether column belongs to the owning key, i.e. is implicit in the row location,
// as opposed to a payload column of the row.
func (m AssociationKeyMetadata) IsKeyColumn(column string) bool {
	return indexOf(m.ColumnNames, column) >= 0
}

// ColumnValue resolves column for one row: owning key columns come from key, the others from row.
func (m AssociationKeyMetadata) ColumnValue(key AssociationKey, row TupleSnapshot, column string) any {
	if v, ok := key.ColumnValue(column); ok {
		return v
	}
	if row == nil {
		return nil
	}
	return row.Get(column)
}

// PayloadColumns returns the row key columns that are not owning key columns.
func (m AssociationKeyMetadata) PayloadColumns() []string {
	r := make([]string, 0, len(m.RowKeyColumnNames))
	for _, c := range m.RowKeyColumnNames {
		if !m.IsKeyColumn(c) {
			r = append(r, c)
		}
	}
	return r
}

// AssociationKey identifies one association: owner columns plus the owning entity key.
type AssociationKey struct {
	Metadata     AssociationKeyMetadata
	ColumnValues []any
	// EntityKey is the key of the owning entity; its zero value means unknown.
	EntityKey EntityKey
}

// NewAssociationKey validates and returns an AssociationKey.
func NewAssociationKey(metadata AssociationKeyMetadata, values []any, owner EntityKey) (AssociationKey, error) {
	if len(metadata.ColumnNames) != len(values) {
		return AssociationKey{}, ContractError(values, "association key on table %q has %d column names but %d values",
			metadata.Table, len(metadata.ColumnNames), len(values))
	}
	return AssociationKey{Metadata: metadata, ColumnValues: values, EntityKey: owner}, nil
}

// Table returns the association table name.
func (k AssociationKey) Table() string {
	return k.Metadata.Table
}

// ColumnValue returns the value of an owning key column.
func (k AssociationKey) ColumnValue(column string) (any, bool) {
	i := indexOf(k.Metadata.ColumnNames, column)
	if i < 0 {
		return nil, false
	}
	return k.ColumnValues[i], true
}

// Equal compares two keys structurally, ignoring the owner entity key.
func (k AssociationKey) Equal(o AssociationKey) bool {
	return k.Metadata.Table == o.Metadata.Table &&
		equalStrings(k.Metadata.ColumnNames, o.Metadata.ColumnNames) &&
		equalValues(k.ColumnValues, o.ColumnValues)
}

func (k AssociationKey) String() string {
	return formatKey("AssociationKey", k.Metadata.Table, k.Metadata.ColumnNames, k.ColumnValues)
}

// RowKey identifies one row of an association.
type RowKey struct {
	ColumnNames  []string
	ColumnValues []any
}

// NewRowKey validates and returns a RowKey.
func NewRowKey(names []string, values []any) (RowKey, error) {
	if len(names) != len(values) {
		return RowKey{}, ContractError(values, "row key has %d column names but %d values", len(names), len(values))
	}
	return RowKey{ColumnNames: names, ColumnValues: values}, nil
}

// ColumnValue returns the value of a row key column.
func (k RowKey) ColumnValue(column string) (any, bool) {
	i := indexOf(k.ColumnNames, column)
	if i < 0 {
		return nil, false
	}
	return k.ColumnValues[i], true
}

// Equal compares two row keys structurally.
func (k RowKey) Equal(o RowKey) bool {
	return equalStrings(k.ColumnNames, o.ColumnNames) && equalValues(k.ColumnValues, o.ColumnValues)
}

func (k RowKey) String() string {
	return formatKey("RowKey", "", k.ColumnNames, k.ColumnValues)
}

// ID returns a comparable canonical form of the row key, usable as a map key.
func (k RowKey) ID() string {
	var sb strings.Builder
	for i := range k.ColumnNames {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(k.ColumnNames[i])
		sb.WriteByte('=')
		sb.WriteString(canonical(k.ColumnValues[i]))
	}
	return sb.String()
}

// canonical renders a key value so that integers of different widths, as returned by
// different backend decoders, compare equal.
func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("i:%d", x)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("i:%d", x)
	case float32, float64:
		return fmt.Sprintf("f:%v", x)
	case string:
		return "s:" + strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("b:%x", x)
	}
	return fmt.Sprintf("%#v", v)
}

// IDSourceType tells whether identifiers come from a table of counters or a native sequence.
type IDSourceType int

const (
	TableIDSource IDSourceType = iota
	SequenceIDSource
)

// IDSourceKeyMetadata describes a counter store.
type IDSourceKeyMetadata struct {
	Type IDSourceType
	// Name is the table or sequence name.
	Name            string
	KeyColumnName   string
	ValueColumnName string
}

// IDSourceKey identifies one logical counter.
type IDSourceKey struct {
	Metadata IDSourceKeyMetadata
	// ColumnValue is the segment (counter) name within a table id source.
	ColumnValue string
}

// Name returns the logical counter name.
func (k IDSourceKey) Name() string {
	if k.Metadata.Type == SequenceIDSource || k.ColumnValue == "" {
		return k.Metadata.Name
	}
	return k.ColumnValue
}

// NewSequenceKey returns the key of the native sequence name.
func NewSequenceKey(name string) IDSourceKey {
	return IDSourceKey{Metadata: IDSourceKeyMetadata{Type: SequenceIDSource, Name: name}}
}

// NextValueRequest asks a dialect for the next value of a counter.
type NextValueRequest struct {
	Key          IDSourceKey
	Increment    int
	InitialValue int
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalValues(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func formatKey(kind, table string, names []string, values []any) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('(')
	if table != "" {
		sb.WriteString(table)
		sb.WriteString(") [")
	} else {
		sb.WriteString("[")
	}
	for i := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(names[i])
		sb.WriteByte('=')
		if i < len(values) {
			fmt.Fprint(&sb, values[i])
		}
	}
	sb.WriteByte(']')
	if table == "" {
		sb.WriteByte(')')
	}
	return sb.String()
}
