package ogm

import (
	"context"
	log "log/slog"
	"reflect"
	"time"
)

// decorated wraps a Dialect with the behaviors every adapter shares: inverse associations
// are never written, each call is logged at debug level with its latency, and written
// tuples/associations are moved to the persisted state.
type decorated struct {
	inner Dialect
}

// Decorate returns d wrapped with the shared dialect behaviors. Decorating twice is a no-op.
func Decorate(d Dialect) Dialect {
	switch d.(type) {
	case *decorated, *decoratedQueryable:
		return d
	}
	if q, ok := d.(QueryableDialect); ok {
		return &decoratedQueryable{decorated: decorated{inner: q}, inner: q}
	}
	return &decorated{inner: d}
}

// Unwrap returns the decorated dialect.
func (d *decorated) Unwrap() Dialect {
	return d.inner
}

func trace(op string, target any, start time.Time, err error) {
	if err != nil {
		log.Debug("dialect call failed", "op", op, "target", target, "latency", time.Since(start), "error", err)
		return
	}
	log.Debug("dialect call", "op", op, "target", target, "latency", time.Since(start))
}

func (d *decorated) GetTuple(ctx context.Context, key EntityKey) (*Tuple, error) {
	start := time.Now()
	t, err := d.inner.GetTuple(ctx, key)
	trace("GetTuple", key, start, err)
	return t, err
}

func (d *decorated) CreateTuple(key EntityKey) *Tuple {
	return d.inner.CreateTuple(key)
}

func (d *decorated) InsertOrUpdateTuple(ctx context.Context, key EntityKey, tuple *Tuple) error {
	start := time.Now()
	err := d.inner.InsertOrUpdateTuple(ctx, key, tuple)
	trace("InsertOrUpdateTuple", key, start, err)
	if err == nil {
		tuple.MarkPersisted()
	}
	return err
}

func (d *decorated) RemoveTuple(ctx context.Context, key EntityKey) error {
	start := time.Now()
	err := d.inner.RemoveTuple(ctx, key)
	trace("RemoveTuple", key, start, err)
	return err
}

func (d *decorated) GetAssociation(ctx context.Context, key AssociationKey) (*Association, error) {
	start := time.Now()
	a, err := d.inner.GetAssociation(ctx, key)
	trace("GetAssociation", key, start, err)
	return a, err
}

func (d *decorated) CreateAssociation(key AssociationKey) *Association {
	return d.inner.CreateAssociation(key)
}

func (d *decorated) InsertOrUpdateAssociation(ctx context.Context, key AssociationKey, association *Association) error {
	if IsInverse(key.Metadata) {
		log.Debug("skipping write of inverse association", "key", key)
		return nil
	}
	start := time.Now()
	err := d.inner.InsertOrUpdateAssociation(ctx, key, association)
	trace("InsertOrUpdateAssociation", key, start, err)
	if err == nil {
		association.MarkPersisted()
	}
	return err
}

func (d *decorated) RemoveAssociation(ctx context.Context, key AssociationKey) error {
	if IsInverse(key.Metadata) {
		log.Debug("skipping removal of inverse association", "key", key)
		return nil
	}
	start := time.Now()
	err := d.inner.RemoveAssociation(ctx, key)
	trace("RemoveAssociation", key, start, err)
	return err
}

func (d *decorated) IsStoredInEntityStructure(metadata AssociationKeyMetadata) bool {
	return d.inner.IsStoredInEntityStructure(metadata)
}

func (d *decorated) NextValue(ctx context.Context, request NextValueRequest) (int64, error) {
	start := time.Now()
	v, err := d.inner.NextValue(ctx, request)
	trace("NextValue", request.Key.Name(), start, err)
	return v, err
}

func (d *decorated) ForEachTuple(ctx context.Context, consumer TupleConsumer, metadata ...EntityKeyMetadata) error {
	start := time.Now()
	err := d.inner.ForEachTuple(ctx, consumer, metadata...)
	trace("ForEachTuple", len(metadata), start, err)
	return err
}

func (d *decorated) LockStrategy(mode LockMode) LockStrategy {
	return d.inner.LockStrategy(mode)
}

func (d *decorated) OverrideType(t reflect.Type) TypeConverter {
	return d.inner.OverrideType(t)
}

type decoratedQueryable struct {
	decorated
	inner QueryableDialect
}

func (d *decoratedQueryable) ExecuteBackendQuery(ctx context.Context, query string, params []any, consumer func(*Tuple) error) error {
	start := time.Now()
	err := d.inner.ExecuteBackendQuery(ctx, query, params, consumer)
	trace("ExecuteBackendQuery", query, start, err)
	return err
}
