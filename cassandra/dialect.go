// Package cassandra is the reference wide-column dialect. It turns keys and pending
// operations into parameterized CQL, prepares each distinct statement once through a shared
// bounded cache, and turns result rows back into snapshots.
package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"

	"github.com/gocql/gocql"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/cache"
)

// Dialect implements ogm.QueryableDialect over a Session. It is safe for concurrent use.
type Dialect struct {
	session    Session
	config     Config
	statements *cache.LoadingCache[PreparedStatement]
	tables     sync.Map
}

var _ ogm.QueryableDialect = (*Dialect)(nil)

// NewDialect returns a dialect issuing statements through session.
func NewDialect(session Session, config Config) *Dialect {
	config = config.withDefaults()
	d := &Dialect{
		session: session,
		config:  config,
	}
	d.statements = cache.NewLoadingCache[PreparedStatement](config.StatementCacheSize, func(ctx context.Context, stmt string) (PreparedStatement, error) {
		return session.Prepare(ctx, stmt)
	})
	for _, t := range config.Tables {
		d.tables.Store(t.Name, t)
	}
	return d
}

// Statements exposes the prepared statement cache.
func (d *Dialect) Statements() *cache.LoadingCache[PreparedStatement] {
	return d.statements
}

func (d *Dialect) table(name string) Option {
	return Table(d.config.Keyspace, name)
}

func (d *Dialect) prepare(ctx context.Context, stmt string) (PreparedStatement, error) {
	p, err := d.statements.Get(ctx, stmt)
	if err != nil {
		return nil, ogm.BackendError(stmt, fmt.Errorf("cassandra prepare failed: %w", err))
	}
	return p, nil
}

func (d *Dialect) bind(values []any) ([]any, error) {
	r := make([]any, len(values))
	for i, v := range values {
		b, err := ogm.ApplyOverride(d, v)
		if err != nil {
			return nil, ogm.ContractError(v, "value conversion failed: %v", err)
		}
		r[i] = b
	}
	return r, nil
}

func (d *Dialect) exec(ctx context.Context, stmt string, consistency gocql.Consistency, values []any) error {
	p, err := d.prepare(ctx, stmt)
	if err != nil {
		return err
	}
	args, err := d.bind(values)
	if err != nil {
		return err
	}
	log.Debug("cassandra exec", "cql", stmt)
	if err := p.Exec(ctx, consistency, args...); err != nil {
		return ogm.BackendError(stmt, fmt.Errorf("cassandra exec failed: %w", err))
	}
	return nil
}

func (d *Dialect) execCAS(ctx context.Context, stmt string, current map[string]any, values ...any) (bool, error) {
	p, err := d.prepare(ctx, stmt)
	if err != nil {
		return false, err
	}
	log.Debug("cassandra lightweight transaction", "cql", stmt)
	applied, err := p.ExecCAS(ctx, d.config.ConsistencyBook.Sequence, current, values...)
	if err != nil {
		return false, ogm.BackendError(stmt, fmt.Errorf("cassandra lightweight transaction failed: %w", err))
	}
	return applied, nil
}

// each streams the result rows of stmt to fn; fn returning an error stops the iteration.
func (d *Dialect) each(ctx context.Context, stmt string, consistency gocql.Consistency, pageSize int, values []any, fn func(row map[string]any) error) error {
	p, err := d.prepare(ctx, stmt)
	if err != nil {
		return err
	}
	args, err := d.bind(values)
	if err != nil {
		return err
	}
	log.Debug("cassandra query", "cql", stmt)
	rows := p.Iter(ctx, consistency, pageSize, args...)
	for {
		row := make(map[string]any)
		if !rows.MapScan(row) {
			break
		}
		if err := fn(row); err != nil {
			rows.Close()
			return err
		}
	}
	if err := rows.Close(); err != nil {
		return ogm.BackendError(stmt, fmt.Errorf("cassandra query failed: %w", err))
	}
	return nil
}

// GetTuple selects the row of key; zero rows is not found.
func (d *Dialect) GetTuple(ctx context.Context, key ogm.EntityKey) (*ogm.Tuple, error) {
	stmt, err := SelectStmt(d.table(key.Table()), Conditions(key.ColumnNames()))
	if err != nil {
		return nil, err
	}
	var found ogm.MapTupleSnapshot
	err = d.each(ctx, stmt, d.config.ConsistencyBook.TupleGet, 2, key.ColumnValues, func(row map[string]any) error {
		if found != nil {
			return ogm.ContractError(key, "key does not identify a unique row of %s", key.Table())
		}
		found = row
		return nil
	})
	if err != nil || found == nil {
		return nil, err
	}
	return ogm.NewTuple(found), nil
}

// CreateTuple returns a new tuple seeded with the key columns.
func (d *Dialect) CreateTuple(key ogm.EntityKey) *ogm.Tuple {
	return ogm.NewCreatedTuple(ogm.NewKeySnapshot(key))
}

// InsertOrUpdateTuple unsets the cleared columns, then upserts the set ones with the key appended.
// Columns without a pending operation keep their stored value.
func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	var setColumns, clearColumns []string
	var setValues []any
	for _, op := range tuple.Operations() {
		switch op.Type {
		case ogm.Put:
			setColumns = append(setColumns, op.Column)
			setValues = append(setValues, op.Value)
		case ogm.PutNull, ogm.Remove:
			// Primary key columns can not be unset.
			if !key.Metadata.IsKeyColumn(op.Column) {
				clearColumns = append(clearColumns, op.Column)
			}
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
	}

	book := d.config.ConsistencyBook
	if len(clearColumns) > 0 {
		stmt, err := DeleteStmt(d.table(key.Table()), Columns(clearColumns), Conditions(key.ColumnNames()))
		if err != nil {
			return err
		}
		if err := d.exec(ctx, stmt, book.TupleUpsert, key.ColumnValues); err != nil {
			return err
		}
	}
	if len(setColumns) == 0 {
		return nil
	}
	setColumns, setValues = withKeyColumns(setColumns, setValues, key.ColumnNames(), key.ColumnValues)
	stmt, err := InsertStmt(d.table(key.Table()), Columns(setColumns))
	if err != nil {
		return err
	}
	return d.exec(ctx, stmt, book.TupleUpsert, setValues)
}

// InsertTuple inserts the tuple only if no row exists under key yet.
func (d *Dialect) InsertTuple(ctx context.Context, key ogm.EntityKey, tuple *ogm.Tuple) error {
	var columns []string
	var values []any
	for _, op := range tuple.Operations() {
		switch op.Type {
		case ogm.Put:
			columns = append(columns, op.Column)
			values = append(values, op.Value)
		case ogm.PutNull, ogm.Remove:
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
	}
	columns, values = withKeyColumns(columns, values, key.ColumnNames(), key.ColumnValues)
	stmt, err := InsertStmt(d.table(key.Table()), Columns(columns), IfNotExists())
	if err != nil {
		return err
	}
	args, err := d.bind(values)
	if err != nil {
		return err
	}
	applied, err := d.execCAS(ctx, stmt, make(map[string]any), args...)
	if err != nil {
		return err
	}
	if !applied {
		return ogm.AlreadyExistsError(stmt, key)
	}
	return nil
}

// withKeyColumns appends the key columns missing from columns so an upsert is self-sufficient.
func withKeyColumns(columns []string, values []any, keyColumns []string, keyValues []any) ([]string, []any) {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for i, c := range keyColumns {
		if _, ok := present[c]; !ok {
			columns = append(columns, c)
			values = append(values, keyValues[i])
		}
	}
	return columns, values
}

// RemoveTuple deletes the row of key.
func (d *Dialect) RemoveTuple(ctx context.Context, key ogm.EntityKey) error {
	stmt, err := DeleteStmt(d.table(key.Table()), Conditions(key.ColumnNames()))
	if err != nil {
		return err
	}
	return d.exec(ctx, stmt, d.config.ConsistencyBook.TupleRemove, key.ColumnValues)
}

// GetAssociation selects the rows of the association table owned by key.
func (d *Dialect) GetAssociation(ctx context.Context, key ogm.AssociationKey) (*ogm.Association, error) {
	stmt, err := SelectStmt(d.table(key.Table()), Conditions(key.Metadata.ColumnNames),
		AllowFiltering(d.requiresFiltering(key.Metadata)))
	if err != nil {
		return nil, err
	}
	snapshot := ogm.NewMapAssociationSnapshot()
	err = d.each(ctx, stmt, d.config.ConsistencyBook.AssociationGet, d.config.ScanPageSize, key.ColumnValues, func(row map[string]any) error {
		s := ogm.MapTupleSnapshot(row)
		snapshot.Add(ogm.RowKeyFromSnapshot(key.Metadata, key, s), s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snapshot.Size() == 0 {
		return nil, nil
	}
	return ogm.NewAssociation(snapshot), nil
}

// CreateAssociation returns a new empty association.
func (d *Dialect) CreateAssociation(key ogm.AssociationKey) *ogm.Association {
	return ogm.NewCreatedAssociation()
}

// InsertOrUpdateAssociation stores one CQL row per association row: CLEAR deletes every row
// of the owner, PUT upserts owner, row key and payload columns, REMOVE deletes one row.
func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key ogm.AssociationKey, association *ogm.Association) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	consistency := d.config.ConsistencyBook.AssociationUpsert
	for _, op := range association.Operations() {
		var stmt string
		var values []any
		var err error
		switch op.Type {
		case ogm.Clear:
			stmt, err = DeleteStmt(d.table(key.Table()), Conditions(key.Metadata.ColumnNames))
			values = key.ColumnValues
		case ogm.PutRow:
			var columns []string
			columns, values = rowColumns(key, op)
			stmt, err = InsertStmt(d.table(key.Table()), Columns(columns))
		case ogm.RemoveRow:
			stmt, err = DeleteStmt(d.table(key.Table()), Conditions(op.Key.ColumnNames))
			values = op.Key.ColumnValues
		default:
			panic(ogm.UnsupportedOperationError(op.Type))
		}
		if err != nil {
			return err
		}
		if err := d.exec(ctx, stmt, consistency, values); err != nil {
			return err
		}
	}
	return nil
}

// rowColumns lists the owner columns, then the row key columns, then the row payload in
// column order. Owner and row key values win over the row's own.
func rowColumns(key ogm.AssociationKey, op ogm.AssociationOperation) ([]string, []any) {
	columns := append([]string(nil), key.Metadata.ColumnNames...)
	values := append([]any(nil), key.ColumnValues...)
	columns, values = withKeyColumns(columns, values, op.Key.ColumnNames, op.Key.ColumnValues)
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	payload := op.Value.ColumnNames()
	sort.Strings(payload)
	for _, c := range payload {
		if _, ok := present[c]; ok {
			continue
		}
		columns = append(columns, c)
		values = append(values, op.Value.Get(c))
	}
	return columns, values
}

// RemoveAssociation deletes every row owned by key.
func (d *Dialect) RemoveAssociation(ctx context.Context, key ogm.AssociationKey) error {
	if ogm.IsInverse(key.Metadata) {
		return nil
	}
	stmt, err := DeleteStmt(d.table(key.Table()), Conditions(key.Metadata.ColumnNames))
	if err != nil {
		return err
	}
	return d.exec(ctx, stmt, d.config.ConsistencyBook.AssociationRemove, key.ColumnValues)
}

// IsStoredInEntityStructure is false: associations live in their own table.
func (d *Dialect) IsStoredInEntityStructure(metadata ogm.AssociationKeyMetadata) bool {
	return false
}

// LockStrategy returns nil: CQL has no row locks.
func (d *Dialect) LockStrategy(mode ogm.LockMode) ogm.LockStrategy {
	return nil
}

// ForEachTuple pages through `SELECT * FROM t` for each table.
func (d *Dialect) ForEachTuple(ctx context.Context, consumer ogm.TupleConsumer, metadata ...ogm.EntityKeyMetadata) error {
	for _, m := range metadata {
		stmt, err := SelectStmt(d.table(m.Table))
		if err != nil {
			return err
		}
		err = d.each(ctx, stmt, d.config.ConsistencyBook.Scan, d.config.ScanPageSize, nil, func(row map[string]any) error {
			return consumer(ctx, m, ogm.NewTuple(ogm.MapTupleSnapshot(row)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExecuteBackendQuery runs raw CQL with positional params.
func (d *Dialect) ExecuteBackendQuery(ctx context.Context, query string, params []any, consumer func(*ogm.Tuple) error) error {
	return d.each(ctx, query, d.config.Consistency, d.config.ScanPageSize, params, func(row map[string]any) error {
		return consumer(ogm.NewTuple(ogm.MapTupleSnapshot(row)))
	})
}

// requiresFiltering reports whether selecting an association by its owner columns is not a
// plain primary key lookup, in which case the select asks for ALLOW FILTERING.
func (d *Dialect) requiresFiltering(metadata ogm.AssociationKeyMetadata) bool {
	t, err := d.tableMetadata(metadata.Table)
	if err != nil {
		log.Warn("table metadata unavailable, allowing filtering", "table", metadata.Table, "error", err)
		return true
	}
	pk := t.PrimaryKey()
	return !subset(metadata.RowKeyColumnNames, pk) ||
		!subset(metadata.ColumnNames, pk) ||
		!subset(t.PartitionKeys, metadata.ColumnNames)
}

func (d *Dialect) tableMetadata(table string) (TableMetadata, error) {
	if v, ok := d.tables.Load(table); ok {
		return v.(TableMetadata), nil
	}
	t, err := d.session.TableMetadata(d.config.Keyspace, table)
	if err != nil {
		return TableMetadata{}, err
	}
	d.tables.Store(table, t)
	return t, nil
}

func subset(columns, of []string) bool {
	for _, c := range columns {
		found := false
		for _, o := range of {
			if c == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
