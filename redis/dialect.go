// Package redis is a key-value grid dialect: each record is a hash with one field per column,
// each association a hash with one field per row, and writes of one unit of work are sent in
// a single MULTI/EXEC transaction.
package redis

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/encoding"
)

// Dialect implements ogm.Dialect over a go-redis client. It is safe for concurrent use.
type Dialect struct {
	client  redis.UniversalClient
	options Options
	locks   *locker
}

var _ ogm.Dialect = (*Dialect)(nil)

// NewDialect returns a dialect storing records through client.
func NewDialect(client redis.UniversalClient, options Options) *Dialect {
	options = options.withDefaults()
	d := &Dialect{client: client, options: options}
	d.locks = newLocker(d)
	return d
}

func failure(command, key string, err error) error {
	return ogm.BackendError(command+" "+key, fmt.Errorf("redis %s failed: %w", command, err))
}

func decodeHash(fields map[string]string) (ogm.MapTupleSnapshot, error) {
	s := make(ogm.MapTupleSnapshot, len(fields))
	for c, raw := range fields {
		v, err := encoding.DecodeValue([]byte(raw))
		if err != nil {
			return nil, err
		}
		s[c] = v
	}
	return s, nil
}

// GetTuple reads the record hash; a missing hash is not found.
func (d *Dialect) GetTuple(ctx context.Context, key ogm.EntityKey) (*ogm.Tuple, error) {
	k, err := d.entityKey(key)
	if err != nil {
		return nil, err
	}
	fields, err := d.client.HGetAll(ctx, k).Result()
	if err != nil {
		return nil, failure("HGETALL", k, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	s, err := decodeHash(fields)
	if err != nil {
		return nil, failure("HGETALL", k, err)
	}
	return ogm.NewTuple(s), nil
}

// CreateTuple returns a new tuple seeded with the key columns.
func (d *Dialect) CreateTuple(key ogm.EntityKey) *ogm.Tuple {
	return ogm.NewCreatedTuple(ogm.NewKeySnapshot(key))
}

// fields splits the tuple's operations into encoded fields to set, key columns included,
// and fields to delete.
func fields(key ogm.EntityKey, tuple *ogm.Tuple) (map[string]any, []string, error) {
	set := make(map[string]any)
	var del []string
	for _, op := range tuple.Operations() {
		switch op.Type {
		case ogm.Put:
			b, err := encoding.EncodeValue(op.Value)
			if err != nil {
				return nil, nil, ogm.ContractError(op.Value, "column %q can not be encoded: %v", op.Column, err)
			}
			set[op.Column] = b
		case ogm.PutNull, ogm.Remove:
			if !key.Metadata.IsKeyColumn(op.Column) {
				del = append(del, op.Column)
			}
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
	}
	if len(set) > 0 {
		for i, c := range key.ColumnNames() {
			if _, ok := set[c]; ok {
				continue
			}
			b, err := encoding.EncodeValue(key.ColumnValues[i])
			if err != nil {
				return nil, nil, ogm.ContractError(key, "key column %q can not be encoded: %v", c, err)
			}
			set[c] = b
		}
	}
	return set, del, nil
}

// InsertOrUpdateTuple deletes the cleared fields then sets the others, in one transaction.
func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	k, err := d.entityKey(key)
	if err != nil {
		return err
	}
	set, del, err := fields(key, tuple)
	if err != nil {
		return err
	}
	if len(set) == 0 && len(del) == 0 {
		return nil
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(del) > 0 {
			pipe.HDel(ctx, k, del...)
		}
		if len(set) > 0 {
			pipe.HSet(ctx, k, set)
		}
		return nil
	})
	if err != nil {
		return failure("MULTI HDEL HSET", k, err)
	}
	return nil
}

// InsertTuple writes the record only when its hash does not exist yet.
func (d *Dialect) InsertTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	k, err := d.entityKey(key)
	if err != nil {
		return err
	}
	set, _, err := fields(key, tuple)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		// A record holding its key columns only.
		set = make(map[string]any)
		for i, c := range key.ColumnNames() {
			b, err := encoding.EncodeValue(key.ColumnValues[i])
			if err != nil {
				return ogm.ContractError(key, "key column %q can not be encoded: %v", c, err)
			}
			set[c] = b
		}
	}
	err = d.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ogm.AlreadyExistsError("HSET "+k, key)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, set)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		return nil
	case ogm.IsCode(err, ogm.AlreadyExists):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Another writer created the record between EXISTS and EXEC.
		return ogm.AlreadyExistsError("HSET "+k, key)
	}
	return failure("WATCH HSET", k, err)
}

// RemoveTuple deletes the record hash.
func (d *Dialect) RemoveTuple(ctx context.Context, key ogm.EntityKey) error {
	k, err := d.entityKey(key)
	if err != nil {
		return err
	}
	if err := d.client.Del(ctx, k).Err(); err != nil {
		return failure("DEL", k, err)
	}
	return nil
}

// GetAssociation reads the association hash; each field is one msgpack encoded row.
func (d *Dialect) GetAssociation(ctx context.Context, key ogm.AssociationKey) (*ogm.Association, error) {
	k, err := d.associationKey(key)
	if err != nil {
		return nil, err
	}
	rows, err := d.client.HGetAll(ctx, k).Result()
	if err != nil {
		return nil, failure("HGETALL", k, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := ogm.NewMapAssociationSnapshot()
	for _, id := range ids {
		columns, err := encoding.DecodeColumns([]byte(rows[id]))
		if err != nil {
			return nil, failure("HGETALL", k, err)
		}
		row := ogm.MapTupleSnapshot(columns)
		snapshot.Add(ogm.RowKeyFromSnapshot(key.Metadata, key, row), row)
	}
	return ogm.NewAssociation(snapshot), nil
}

// CreateAssociation returns a new empty association.
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

// InsertOrUpdateAssociation applies CLEAR as DEL, then each row as HSET or HDEL, in one transaction.
func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key ogm.AssociationKey, association *ogm.Association) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	k, err := d.associationKey(key)
	if err != nil {
		return err
	}
	ops := association.Operations()
	if len(ops) == 0 {
		return nil
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Type {
			case ogm.Clear:
				pipe.Del(ctx, k)
			case ogm.PutRow:
				field, err := rowField(op.Key)
				if err != nil {
					return err
				}
				value, err := rowValue(op)
				if err != nil {
					return ogm.ContractError(op.Key, "row can not be encoded: %v", err)
				}
				pipe.HSet(ctx, k, field, value)
			case ogm.RemoveRow:
				field, err := rowField(op.Key)
				if err != nil {
					return err
				}
				pipe.HDel(ctx, k, field)
			default:
				panic(ogm.UnsupportedOperationError(op.Type))
			}
		}
		return nil
	})
	if err != nil {
		if ogm.IsCode(err, ogm.ContractViolation) {
			return err
		}
		return failure("MULTI DEL HSET HDEL", k, err)
	}
	return nil
}

// RemoveAssociation deletes the association hash.
func (d *Dialect) RemoveAssociation(ctx context.Context, key ogm.AssociationKey) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	k, err := d.associationKey(key)
	if err != nil {
		return err
	}
	if err := d.client.Del(ctx, k).Err(); err != nil {
		return failure("DEL", k, err)
	}
	return nil
}

// IsStoredInEntityStructure is false: associations have their own hash.
func (d *Dialect) IsStoredInEntityStructure(metadata ogm.AssociationKeyMetadata) bool {
	return false
}

// NextValue seeds the counter one increment below the initial value, then INCRBY, in one
// transaction; INCRBY is atomic so concurrent callers get distinct values.
func (d *Dialect) NextValue(ctx context.Context, request ogm.NextValueRequest) (int64, error) {
	k := d.counterKey(request.Key)
	increment := int64(request.Increment)
	if increment == 0 {
		increment = 1
	}
	var next *redis.IntCmd
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, int64(request.InitialValue)-increment, 0)
		next = pipe.IncrBy(ctx, k, increment)
		return nil
	})
	if err != nil {
		return 0, failure("MULTI SETNX INCRBY", k, err)
	}
	return next.Val(), nil
}

// ForEachTuple walks the record hashes of each table with SCAN MATCH.
func (d *Dialect) ForEachTuple(ctx context.Context, consumer ogm.TupleConsumer, metadata ...ogm.EntityKeyMetadata) error {
	for _, m := range metadata {
		pattern := d.tablePattern(m.Table)
		var cursor uint64
		for {
			keys, next, err := d.client.Scan(ctx, cursor, pattern, d.options.ScanCount).Result()
			if err != nil {
				return failure("SCAN", pattern, err)
			}
			for _, k := range keys {
				fields, err := d.client.HGetAll(ctx, k).Result()
				if err != nil {
					return failure("HGETALL", k, err)
				}
				// Removed since the scan listed it.
				if len(fields) == 0 {
					continue
				}
				s, err := decodeHash(fields)
				if err != nil {
					return failure("HGETALL", k, err)
				}
				if err := consumer(ctx, m, ogm.NewTuple(s)); err != nil {
					return err
				}
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	return nil
}

// LockStrategy returns the SET NX PX lock for pessimistic modes, nil otherwise.
func (d *Dialect) LockStrategy(mode ogm.LockMode) ogm.LockStrategy {
	switch mode {
	case ogm.LockPessimisticRead, ogm.LockPessimisticWrite, ogm.LockPessimisticForceIncrement:
		return d.locks
	}
	return nil
}

// OverrideType returns nil: msgpack keeps the default mapping of every Go type.
func (d *Dialect) OverrideType(t reflect.Type) ogm.TypeConverter {
	return nil
}
