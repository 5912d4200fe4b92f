package cassandra

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/gocql/gocql"
)

// Rows iterates the result rows of a statement.
type Rows interface {
	// MapScan fills row with the next result row, false when exhausted. Pass a new map per call.
	MapScan(row map[string]any) bool
	// Close releases the iterator and returns the error, if any, met while paging.
	Close() error
}

// PreparedStatement is a statement ready for repeated execution with positional binds.
type PreparedStatement interface {
	// Statement returns the CQL text.
	Statement() string
	Exec(ctx context.Context, consistency gocql.Consistency, values ...any) error
	// ExecCAS runs a lightweight transaction; when not applied, current receives the existing values.
	ExecCAS(ctx context.Context, consistency gocql.Consistency, current map[string]any, values ...any) (bool, error)
	Iter(ctx context.Context, consistency gocql.Consistency, pageSize int, values ...any) Rows
}

// Session is the backend client the dialect talks to. It is shared and safe for concurrent use.
type Session interface {
	Prepare(ctx context.Context, statement string) (PreparedStatement, error)
	// TableMetadata returns the primary key layout of a table in keyspace.
	TableMetadata(keyspace, table string) (TableMetadata, error)
}

// TableMetadata is the primary key layout of a table.
type TableMetadata struct {
	Name           string
	PartitionKeys  []string
	ClusteringKeys []string
}

// PrimaryKey returns the partition keys followed by the clustering keys.
func (t TableMetadata) PrimaryKey() []string {
	r := make([]string, 0, len(t.PartitionKeys)+len(t.ClusteringKeys))
	r = append(r, t.PartitionKeys...)
	return append(r, t.ClusteringKeys...)
}

type gocqlSession struct {
	session *gocql.Session
}

// NewSession adapts a gocql session to the Session interface.
func NewSession(s *gocql.Session) Session {
	return &gocqlSession{session: s}
}

func (s *gocqlSession) Prepare(ctx context.Context, statement string) (PreparedStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(statement) == "" {
		return nil, fmt.Errorf("empty statement")
	}
	binds := Placeholders(statement)
	if preparable(statement) {
		// Resolving the routing key prepares the statement on a host and caches its metadata;
		// typed nil binds marshal to nothing.
		unset := make([]any, binds)
		for i := range unset {
			unset[i] = (*struct{})(nil)
		}
		if _, err := s.session.Query(statement, unset...).WithContext(ctx).GetRoutingKey(); err != nil {
			return nil, err
		}
	}
	return &gocqlStatement{session: s.session, statement: statement, binds: binds}, nil
}

// preparable reports whether gocql executes the statement as a prepared statement.
func preparable(statement string) bool {
	verb, _, _ := strings.Cut(strings.TrimSpace(statement), " ")
	switch strings.ToLower(verb) {
	case "select", "insert", "update", "delete":
		return true
	}
	return false
}

// Placeholders counts the positional bind markers of statement, skipping quoted
// identifiers and string literals.
func Placeholders(statement string) int {
	n := 0
	var quote rune
	for _, r := range statement {
		switch {
		case quote != 0:
			// A doubled quote reads as leaving and re-entering the quoted run.
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
		}
	}
	return n
}

func (s *gocqlSession) TableMetadata(keyspace, table string) (TableMetadata, error) {
	km, err := s.session.KeyspaceMetadata(keyspace)
	if err != nil {
		return TableMetadata{}, err
	}
	tm, ok := km.Tables[table]
	if !ok {
		return TableMetadata{}, fmt.Errorf("table %s.%s not found", keyspace, table)
	}
	md := TableMetadata{Name: table}
	for _, c := range tm.PartitionKey {
		md.PartitionKeys = append(md.PartitionKeys, c.Name)
	}
	for _, c := range tm.ClusteringColumns {
		md.ClusteringKeys = append(md.ClusteringKeys, c.Name)
	}
	return md, nil
}

type gocqlStatement struct {
	session   *gocql.Session
	statement string
	binds     int
}

func (s *gocqlStatement) Statement() string {
	return s.statement
}

func (s *gocqlStatement) query(ctx context.Context, consistency gocql.Consistency, values []any) (*gocql.Query, error) {
	if len(values) != s.binds {
		return nil, fmt.Errorf("statement expects %d bind values, got %d", s.binds, len(values))
	}
	qry := s.session.Query(s.statement, values...).WithContext(ctx)
	if consistency > gocql.Any {
		qry.Consistency(consistency)
	}
	return qry, nil
}

func (s *gocqlStatement) Exec(ctx context.Context, consistency gocql.Consistency, values ...any) error {
	qry, err := s.query(ctx, consistency, values)
	if err != nil {
		return err
	}
	return qry.Exec()
}

func (s *gocqlStatement) ExecCAS(ctx context.Context, consistency gocql.Consistency, current map[string]any, values ...any) (bool, error) {
	qry, err := s.query(ctx, consistency, values)
	if err != nil {
		return false, err
	}
	return qry.MapScanCAS(current)
}

func (s *gocqlStatement) Iter(ctx context.Context, consistency gocql.Consistency, pageSize int, values ...any) Rows {
	qry, err := s.query(ctx, consistency, values)
	if err != nil {
		return errRows{err: err}
	}
	if pageSize > 0 {
		qry.PageSize(pageSize)
	}
	return newRows(qry.Iter())
}

// columnIterator is the part of *gocql.Iter rows are read through.
type columnIterator interface {
	Columns() []gocql.ColumnInfo
	Scan(dest ...any) bool
	MapScan(m map[string]any) bool
	Close() error
}

// rows scans each column into a **T so a NULL cell stays nil and is left out of the row,
// where gocql's own MapScan would report the type's zero value.
type rows struct {
	iter columnIterator
}

func newRows(iter columnIterator) Rows {
	return &rows{iter: iter}
}

func (r *rows) MapScan(row map[string]any) bool {
	columns := r.iter.Columns()
	dest := make([]any, len(columns))
	for i, c := range columns {
		if _, ok := c.TypeInfo.(gocql.TupleTypeInfo); ok {
			// Tuples scan into one destination per element.
			return r.iter.MapScan(row)
		}
		zero, err := c.TypeInfo.NewWithError()
		if err != nil {
			return r.iter.MapScan(row)
		}
		dest[i] = reflect.New(reflect.TypeOf(zero)).Interface()
	}
	if !r.iter.Scan(dest...) {
		return false
	}
	for i, c := range columns {
		if v := reflect.ValueOf(dest[i]).Elem(); !v.IsNil() {
			row[c.Name] = v.Elem().Interface()
		}
	}
	return true
}

func (r *rows) Close() error {
	return r.iter.Close()
}

type errRows struct {
	err error
}

func (r errRows) MapScan(map[string]any) bool { return false }
func (r errRows) Close() error                { return r.err }
