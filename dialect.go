package ogm

import (
	"context"
	"reflect"
)

// TupleConsumer receives each record of a full scan. Returning an error stops the scan.
type TupleConsumer func(ctx context.Context, metadata EntityKeyMetadata, tuple *Tuple) error

// LockMode is the lock a caller asks for on a record.
type LockMode int

const (
	LockNone LockMode = iota
	LockRead
	LockOptimistic
	LockOptimisticForceIncrement
	LockPessimisticRead
	LockPessimisticWrite
	LockPessimisticForceIncrement
)

// LockStrategy applies a backend-native lock on a record.
type LockStrategy interface {
	// Lock acquires the lock on key for the unit of work. Unlock releases it.
	Lock(ctx context.Context, key EntityKey) error
	Unlock(ctx context.Context, key EntityKey) error
}

// TypeConverter translates a Go value into the form a backend stores natively, and back.
type TypeConverter interface {
	ToBackend(value any) (any, error)
	FromBackend(value any) (any, error)
}

// Dialect is the contract every backend adapter implements. Adapters are long-lived, shared
// and safe for concurrent use; the Tuple and Association values they hand out are not.
type Dialect interface {
	// GetTuple loads the record stored under key. A missing record is (nil, nil), never an empty Tuple.
	GetTuple(ctx context.Context, key EntityKey) (*Tuple, error)
	// CreateTuple returns a new unsaved Tuple whose snapshot holds the key's own columns.
	CreateTuple(key EntityKey) *Tuple
	// InsertOrUpdateTuple upserts the tuple's pending operations; columns without operation are untouched.
	InsertOrUpdateTuple(ctx context.Context, key EntityKey, tuple *Tuple) error
	// RemoveTuple deletes the record.
	RemoveTuple(ctx context.Context, key EntityKey) error

	// GetAssociation loads the association stored under key, (nil, nil) when there is none.
	GetAssociation(ctx context.Context, key AssociationKey) (*Association, error)
	// CreateAssociation returns a new unsaved, empty Association.
	CreateAssociation(key AssociationKey) *Association
	// InsertOrUpdateAssociation applies the association's pending operations. Inverse associations are skipped.
	InsertOrUpdateAssociation(ctx context.Context, key AssociationKey, association *Association) error
	// RemoveAssociation deletes every row of the association. Inverse associations are skipped.
	RemoveAssociation(ctx context.Context, key AssociationKey) error
	// IsStoredInEntityStructure reports whether the association is embedded in the owner's record.
	IsStoredInEntityStructure(metadata AssociationKeyMetadata) bool

	// NextValue allocates the next value of a counter; safe under concurrent callers.
	NextValue(ctx context.Context, request NextValueRequest) (int64, error)
	// ForEachTuple scans every record of each table, streaming them to consumer.
	ForEachTuple(ctx context.Context, consumer TupleConsumer, metadata ...EntityKeyMetadata) error

	// LockStrategy returns the backend lock for mode, nil when the backend has none.
	LockStrategy(mode LockMode) LockStrategy
	// OverrideType returns a converter for values of type t, nil to keep the default mapping.
	OverrideType(t reflect.Type) TypeConverter
}

// QueryableDialect is implemented by dialects able to run native backend queries.
type QueryableDialect interface {
	Dialect
	// ExecuteBackendQuery runs query with positional params, one Tuple per result row.
	ExecuteBackendQuery(ctx context.Context, query string, params []any, consumer func(*Tuple) error) error
}

// IsInverse reports whether writes to the association must be skipped.
// It is the single predicate every dialect and the decorator use.
func IsInverse(metadata AssociationKeyMetadata) bool {
	return metadata.IsInverse()
}

// ApplyOverride converts value through the dialect's override for its type, if any.
func ApplyOverride(d Dialect, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	c := d.OverrideType(reflect.TypeOf(value))
	if c == nil {
		return value, nil
	}
	return c.ToBackend(value)
}

// Inserter is implemented by dialects able to write a record only when it does not exist yet.
type Inserter interface {
	// InsertTuple writes tuple under key, failing with AlreadyExists when a record is stored there.
	InsertTuple(ctx context.Context, key EntityKey, tuple *Tuple) error
}

// InsertTuple writes a new record through d, unwrapping decorators to reach an Inserter.
// Dialects without insert-if-absent support report UnsupportedOperation.
func InsertTuple(ctx context.Context, d Dialect, key EntityKey, tuple *Tuple) error {
	for {
		if ins, ok := d.(Inserter); ok {
			if err := ins.InsertTuple(ctx, key, tuple); err != nil {
				return err
			}
			tuple.MarkPersisted()
			return nil
		}
		u, ok := d.(interface{ Unwrap() Dialect })
		if !ok {
			return UnsupportedOperationError("InsertTuple")
		}
		d = u.Unwrap()
	}
}
