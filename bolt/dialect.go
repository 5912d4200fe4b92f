// Package bolt is an embedded key-value dialect over a single bbolt file. Records live in one
// bucket per table, associations in nested buckets per owner, and counters in one bucket;
// every write runs in one bolt transaction.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.etcd.io/bbolt"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/encoding"
)

// Bucket layout:
//
//	t:<table>                  record key -> column map
//	a:<table> / <owner key>    row key -> row column map
//	seq                        counter name -> next value
//
// Keys are msgpack encoded key values.
const (
	tablePrefix       = "t:"
	associationPrefix = "a:"
	sequenceBucket    = "seq"
)

// Dialect implements ogm.Dialect over a bbolt database. It is safe for concurrent use.
type Dialect struct {
	db      *bbolt.DB
	options Options
}

var _ ogm.Dialect = (*Dialect)(nil)

// NewDialect returns a dialect storing records in db.
func NewDialect(db *bbolt.DB, options Options) *Dialect {
	return &Dialect{db: db, options: options.withDefaults()}
}

// DB returns the underlying bolt database.
func (d *Dialect) DB() *bbolt.DB {
	return d.db
}

// wrap passes ogm errors raised inside a transaction through and wraps bolt failures.
func wrap(op, bucket string, err error) error {
	if err == nil {
		return nil
	}
	var e ogm.Error
	if errors.As(err, &e) {
		return err
	}
	return ogm.BackendError(op+" "+bucket, fmt.Errorf("bolt %s failed: %w", op, err))
}

func encodeKey(values []any) ([]byte, error) {
	b, err := encoding.EncodeKey(values)
	if err != nil {
		return nil, ogm.ContractError(values, "key values can not be encoded: %v", err)
	}
	return b, nil
}

func (d *Dialect) GetTuple(ctx context.Context, key ogm.EntityKey) (*ogm.Tuple, error) {
	k, err := encodeKey(key.ColumnValues)
	if err != nil {
		return nil, err
	}
	name := tablePrefix + key.Table()
	var columns map[string]any
	err = d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		v := b.Get(k)
		if v == nil {
			return nil
		}
		columns, err = encoding.DecodeColumns(v)
		return err
	})
	if err != nil {
		return nil, wrap("GET", name, err)
	}
	if columns == nil {
		return nil, nil
	}
	return ogm.NewTuple(ogm.MapTupleSnapshot(columns)), nil
}

func (d *Dialect) CreateTuple(key ogm.EntityKey) *ogm.Tuple {
	return ogm.NewCreatedTuple(ogm.NewKeySnapshot(key))
}

// apply folds the tuple's operations onto the stored column map. Key columns are never cleared.
func apply(columns map[string]any, key ogm.EntityKey, tuple *ogm.Tuple) {
	for _, op := range tuple.Operations() {
		switch op.Type {
		case ogm.Put:
			columns[op.Column] = op.Value
		case ogm.PutNull, ogm.Remove:
			if !key.Metadata.IsKeyColumn(op.Column) {
				delete(columns, op.Column)
			}
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
	}
	for i, c := range key.ColumnNames() {
		columns[c] = key.ColumnValues[i]
	}
}

func (d *Dialect) put(key ogm.EntityKey, tuple *ogm.Tuple, mustNotExist bool) error {
	k, err := encodeKey(key.ColumnValues)
	if err != nil {
		return err
	}
	name := tablePrefix + key.Table()
	err = d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		columns := make(map[string]any)
		if v := b.Get(k); v != nil {
			if mustNotExist {
				return ogm.AlreadyExistsError("PUT "+name, key)
			}
			if columns, err = encoding.DecodeColumns(v); err != nil {
				return err
			}
		}
		apply(columns, key, tuple)
		v, err := encoding.EncodeColumns(columns)
		if err != nil {
			return ogm.ContractError(tuple, "record can not be encoded: %v", err)
		}
		return b.Put(k, v)
	})
	return wrap("PUT", name, err)
}

// InsertOrUpdateTuple reads the stored record, applies the operations and writes it back,
// in one transaction.
func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	if len(tuple.Operations()) == 0 {
		return nil
	}
	return d.put(key, tuple, false)
}

// InsertTuple writes the record only when none is stored under key.
func (d *Dialect) InsertTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	return d.put(key, tuple, true)
}

func (d *Dialect) RemoveTuple(ctx context.Context, key ogm.EntityKey) error {
	k, err := encodeKey(key.ColumnValues)
	if err != nil {
		return err
	}
	name := tablePrefix + key.Table()
	err = d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		return b.Delete(k)
	})
	return wrap("DELETE", name, err)
}

func (d *Dialect) GetAssociation(ctx context.Context, key ogm.AssociationKey) (*ogm.Association, error) {
	owner, err := encodeKey(key.ColumnValues)
	if err != nil {
		return nil, err
	}
	name := associationPrefix + key.Table()
	snapshot := ogm.NewMapAssociationSnapshot()
	err = d.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(name))
		if root == nil {
			return nil
		}
		b := root.Bucket(owner)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			columns, err := encoding.DecodeColumns(v)
			if err != nil {
				return err
			}
			row := ogm.MapTupleSnapshot(columns)
			snapshot.Add(ogm.RowKeyFromSnapshot(key.Metadata, key, row), row)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("CURSOR", name, err)
	}
	if snapshot.Size() == 0 {
		return nil, nil
	}
	return ogm.NewAssociation(snapshot), nil
}

func (d *Dialect) CreateAssociation(key ogm.AssociationKey) *ogm.Association {
	return ogm.NewCreatedAssociation()
}

// rowValue is the stored form of one association row: its columns plus the row key columns.
func rowValue(op ogm.AssociationOperation) ([]byte, error) {
	columns := op.Value.Map()
	for i, c := range op.Key.ColumnNames {
		columns[c] = op.Key.ColumnValues[i]
	}
	return encoding.EncodeColumns(columns)
}

// InsertOrUpdateAssociation applies CLEAR by dropping the owner's bucket, then each row, in one
// transaction. An owner bucket left empty is dropped so that the association reads as absent.
func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key ogm.AssociationKey, association *ogm.Association) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	ops := association.Operations()
	if len(ops) == 0 {
		return nil
	}
	owner, err := encodeKey(key.ColumnValues)
	if err != nil {
		return err
	}
	name := associationPrefix + key.Table()
	err = d.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		for _, op := range ops {
			switch op.Type {
			case ogm.Clear:
				if err := root.DeleteBucket(owner); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
					return err
				}
			case ogm.PutRow:
				b, err := root.CreateBucketIfNotExists(owner)
				if err != nil {
					return err
				}
				k, err := encodeKey(op.Key.ColumnValues)
				if err != nil {
					return err
				}
				v, err := rowValue(op)
				if err != nil {
					return ogm.ContractError(op.Key, "row can not be encoded: %v", err)
				}
				if err := b.Put(k, v); err != nil {
					return err
				}
			case ogm.RemoveRow:
				b := root.Bucket(owner)
				if b == nil {
					continue
				}
				k, err := encodeKey(op.Key.ColumnValues)
				if err != nil {
					return err
				}
				if err := b.Delete(k); err != nil {
					return err
				}
			default:
				panic(ogm.UnsupportedOperationError(op.Type))
			}
		}
		if b := root.Bucket(owner); b != nil {
			if k, _ := b.Cursor().First(); k == nil {
				return root.DeleteBucket(owner)
			}
		}
		return nil
	})
	return wrap("UPDATE", name, err)
}

func (d *Dialect) RemoveAssociation(ctx context.Context, key ogm.AssociationKey) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	owner, err := encodeKey(key.ColumnValues)
	if err != nil {
		return err
	}
	name := associationPrefix + key.Table()
	err = d.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(name))
		if root == nil {
			return nil
		}
		if err := root.DeleteBucket(owner); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		return nil
	})
	return wrap("DELETE BUCKET", name, err)
}

// IsStoredInEntityStructure is false: associations have their own buckets.
func (d *Dialect) IsStoredInEntityStructure(metadata ogm.AssociationKeyMetadata) bool {
	return false
}

func counterName(key ogm.IDSourceKey) []byte {
	if key.Metadata.Type == ogm.TableIDSource && key.Metadata.Name != "" && key.ColumnValue != "" {
		return []byte(key.Metadata.Name + "/" + key.ColumnValue)
	}
	return []byte(key.Name())
}

// NextValue reads and advances the counter in one write transaction. Writers are serialized
// by bolt, so concurrent callers get distinct values.
func (d *Dialect) NextValue(ctx context.Context, request ogm.NextValueRequest) (int64, error) {
	increment := int64(request.Increment)
	if increment == 0 {
		increment = 1
	}
	name := counterName(request.Key)
	var value int64
	err := d.db.Batch(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sequenceBucket))
		if err != nil {
			return err
		}
		value = int64(request.InitialValue)
		if v := b.Get(name); v != nil {
			stored, err := encoding.DecodeValue(v)
			if err != nil {
				return err
			}
			n, ok := stored.(int64)
			if !ok {
				return fmt.Errorf("counter %s holds %T", name, stored)
			}
			value = n
		}
		next, err := encoding.EncodeValue(value + increment)
		if err != nil {
			return err
		}
		return b.Put(name, next)
	})
	if err != nil {
		return 0, wrap("INCREMENT", sequenceBucket+"/"+string(name), err)
	}
	return value, nil
}

// ForEachTuple walks each table bucket in key order. Records are read in batches, each in its
// own read transaction, and handed to consumer outside of it so consumers may write.
func (d *Dialect) ForEachTuple(ctx context.Context, consumer ogm.TupleConsumer, metadata ...ogm.EntityKeyMetadata) error {
	for _, m := range metadata {
		name := tablePrefix + m.Table
		var after []byte
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch := make([]ogm.MapTupleSnapshot, 0, d.options.ScanBatch)
			err := d.db.View(func(tx *bbolt.Tx) error {
				b := tx.Bucket([]byte(name))
				if b == nil {
					return nil
				}
				c := b.Cursor()
				var k, v []byte
				if after == nil {
					k, v = c.First()
				} else if k, v = c.Seek(after); k != nil && bytes.Equal(k, after) {
					k, v = c.Next()
				}
				for ; k != nil && len(batch) < d.options.ScanBatch; k, v = c.Next() {
					columns, err := encoding.DecodeColumns(v)
					if err != nil {
						return err
					}
					batch = append(batch, ogm.MapTupleSnapshot(columns))
					after = bytes.Clone(k)
				}
				return nil
			})
			if err != nil {
				return wrap("CURSOR", name, err)
			}
			for _, s := range batch {
				if err := consumer(ctx, m, ogm.NewTuple(s)); err != nil {
					return err
				}
			}
			if len(batch) < d.options.ScanBatch {
				break
			}
		}
	}
	return nil
}

// LockStrategy returns nil: the database file is owned by one process and writers are serialized.
func (d *Dialect) LockStrategy(mode ogm.LockMode) ogm.LockStrategy {
	return nil
}

// OverrideType returns nil: msgpack keeps the default mapping of every Go type.
func (d *Dialect) OverrideType(t reflect.Type) ogm.TypeConverter {
	return nil
}
