package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharedcode/ogm"
)

const (
	defaultSequenceKeyColumn   = "sequence_name"
	defaultSequenceValueColumn = "next_val"
	// maxCompareAndSetAttempts bounds the allocation loop under heavy contention on one counter.
	maxCompareAndSetAttempts = 64
)

// sequenceTable resolves where the counter of key is stored: a table id source names its own
// table and columns, a sequence id source lives in the configured sequence table.
func (d *Dialect) sequenceTable(key ogm.IDSourceKey) (table, keyColumn, valueColumn string) {
	table, keyColumn, valueColumn = d.config.SequenceTable, defaultSequenceKeyColumn, defaultSequenceValueColumn
	if key.Metadata.Type != ogm.TableIDSource || key.Metadata.Name == "" {
		return
	}
	table = key.Metadata.Name
	if key.Metadata.KeyColumnName != "" {
		keyColumn = key.Metadata.KeyColumnName
	}
	if key.Metadata.ValueColumnName != "" {
		valueColumn = key.Metadata.ValueColumnName
	}
	return
}

// NextValue hands out the stored value of the counter and advances it by the increment.
// The counter row is seeded with the initial value by an INSERT IF NOT EXISTS, then advanced
// by compare-and-set until this caller wins, so concurrent callers never get the same value.
func (d *Dialect) NextValue(ctx context.Context, request ogm.NextValueRequest) (int64, error) {
	table, keyColumn, valueColumn := d.sequenceTable(request.Key)
	name := request.Key.Name()
	increment := int64(request.Increment)
	if increment == 0 {
		increment = 1
	}

	seed, err := InsertStmt(d.table(table), Columns([]string{keyColumn, valueColumn}), IfNotExists())
	if err != nil {
		return 0, err
	}
	existing := make(map[string]any)
	applied, err := d.execCAS(ctx, seed, existing, name, int64(request.InitialValue))
	if err != nil {
		return 0, err
	}
	current := int64(request.InitialValue)
	if !applied {
		if current, err = counterValue(existing, valueColumn); err != nil {
			return 0, ogm.BackendError(seed, err)
		}
	}

	cas, err := CompareAndSetStmt(d.table(table), Counter(keyColumn, valueColumn))
	if err != nil {
		return 0, err
	}
	for attempt := 0; attempt < maxCompareAndSetAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		existing = make(map[string]any)
		applied, err := d.execCAS(ctx, cas, existing, current+increment, name, current)
		if err != nil {
			return 0, err
		}
		if applied {
			return current, nil
		}
		if current, err = counterValue(existing, valueColumn); err != nil {
			return 0, ogm.BackendError(cas, err)
		}
	}
	return 0, ogm.ConflictError(cas, fmt.Errorf("counter %q still contended after %d attempts", name, maxCompareAndSetAttempts))
}

func counterValue(row map[string]any, column string) (int64, error) {
	switch v := row[column].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case nil:
		return 0, errors.New("counter row has no value")
	default:
		return 0, fmt.Errorf("counter value has unexpected type %T", v)
	}
}
