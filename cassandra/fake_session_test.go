package cassandra

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// fakeSession is an in-memory stand-in for a cluster. It understands the statement shapes the
// dialect generates, records what it executed and counts prepares per statement.
type fakeSession struct {
	mu       sync.Mutex
	tables   map[string]TableMetadata
	data     map[string][]map[string]any
	prepares map[string]int
	executed []string
	binds    [][]any
	// failWith makes every execution of a statement containing the key fail.
	failWith     map[string]error
	prepareDelay time.Duration
}

func newFakeSession(tables ...TableMetadata) *fakeSession {
	s := &fakeSession{
		tables:   make(map[string]TableMetadata),
		data:     make(map[string][]map[string]any),
		prepares: make(map[string]int),
		failWith: make(map[string]error),
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

func (s *fakeSession) Prepare(ctx context.Context, statement string) (PreparedStatement, error) {
	if s.prepareDelay > 0 {
		time.Sleep(s.prepareDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepares[statement]++
	return &fakeStatement{session: s, statement: statement}, nil
}

func (s *fakeSession) TableMetadata(keyspace, table string) (TableMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return TableMetadata{}, fmt.Errorf("table %s.%s not found", keyspace, table)
	}
	return t, nil
}

func (s *fakeSession) prepareCount(statement string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepares[statement]
}

func (s *fakeSession) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

func (s *fakeSession) rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data["ks."+table]
}

type fakeStatement struct {
	session   *fakeSession
	statement string
}

func (f *fakeStatement) Statement() string {
	return f.statement
}

func (f *fakeStatement) Exec(ctx context.Context, consistency gocql.Consistency, values ...any) error {
	_, _, err := f.session.run(f.statement, values, nil)
	return err
}

func (f *fakeStatement) ExecCAS(ctx context.Context, consistency gocql.Consistency, current map[string]any, values ...any) (bool, error) {
	_, applied, err := f.session.run(f.statement, values, current)
	return applied, err
}

func (f *fakeStatement) Iter(ctx context.Context, consistency gocql.Consistency, pageSize int, values ...any) Rows {
	rows, _, err := f.session.run(f.statement, values, nil)
	return &fakeRows{rows: rows, err: err}
}

type fakeRows struct {
	rows []map[string]any
	err  error
}

func (r *fakeRows) MapScan(row map[string]any) bool {
	if r.err != nil || len(r.rows) == 0 {
		return false
	}
	for k, v := range r.rows[0] {
		row[k] = v
	}
	r.rows = r.rows[1:]
	return true
}

func (r *fakeRows) Close() error {
	return r.err
}

var (
	selectRe = regexp.MustCompile(`^SELECT \* FROM (\S+)(?: WHERE (.+?))?( ALLOW FILTERING)?$`)
	insertRe = regexp.MustCompile(`^INSERT INTO (\S+) \((.+)\) VALUES \((.+)\)( IF NOT EXISTS)?$`)
	deleteRe = regexp.MustCompile(`^DELETE (?:(.+) )?FROM (\S+) WHERE (.+)$`)
	casRe    = regexp.MustCompile(`^UPDATE (\S+) SET (\S+)=\? WHERE (\S+)=\? IF (\S+)=\?$`)
)

func unquote(identifier string) string {
	return strings.Trim(strings.TrimSpace(identifier), `"`)
}

func conditions(where string) []string {
	var cs []string
	for _, c := range strings.Split(where, " AND ") {
		cs = append(cs, unquote(strings.TrimSuffix(c, "=?")))
	}
	return cs
}

func list(columns string) []string {
	var cs []string
	for _, c := range strings.Split(columns, ",") {
		cs = append(cs, unquote(c))
	}
	return cs
}

func matches(row map[string]any, columns []string, values []any) bool {
	for i, c := range columns {
		if !reflect.DeepEqual(row[c], values[i]) {
			return false
		}
	}
	return true
}

func copyRow(row map[string]any) map[string]any {
	c := make(map[string]any, len(row))
	for k, v := range row {
		c[k] = v
	}
	return c
}

func (s *fakeSession) primaryKey(table string) []string {
	name := table[strings.LastIndex(table, ".")+1:]
	return s.tables[name].PrimaryKey()
}

// run interprets statement; current receives the existing row of a lightweight transaction that did not apply.
func (s *fakeSession) run(statement string, values []any, current map[string]any) ([]map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, statement)
	s.binds = append(s.binds, values)
	for k, err := range s.failWith {
		if strings.Contains(statement, k) {
			return nil, false, err
		}
	}

	if m := selectRe.FindStringSubmatch(statement); m != nil {
		table := m[1]
		var cs []string
		if m[2] != "" {
			cs = conditions(m[2])
		}
		var r []map[string]any
		for _, row := range s.data[table] {
			if matches(row, cs, values) {
				r = append(r, copyRow(row))
			}
		}
		return r, false, nil
	}

	if m := insertRe.FindStringSubmatch(statement); m != nil {
		table, columns := m[1], list(m[2])
		inserted := make(map[string]any, len(columns))
		for i, c := range columns {
			inserted[c] = values[i]
		}
		pk := s.primaryKey(table)
		pkValues := make([]any, len(pk))
		for i, c := range pk {
			pkValues[i] = inserted[c]
		}
		for _, row := range s.data[table] {
			if !matches(row, pk, pkValues) {
				continue
			}
			if m[4] != "" {
				for k, v := range row {
					current[k] = v
				}
				return nil, false, nil
			}
			for k, v := range inserted {
				row[k] = v
			}
			return nil, true, nil
		}
		s.data[table] = append(s.data[table], inserted)
		return nil, true, nil
	}

	if m := deleteRe.FindStringSubmatch(statement); m != nil {
		table, cs := m[2], conditions(m[3])
		var kept []map[string]any
		for _, row := range s.data[table] {
			if !matches(row, cs, values) {
				kept = append(kept, row)
				continue
			}
			if m[1] != "" {
				for _, c := range list(m[1]) {
					delete(row, c)
				}
				kept = append(kept, row)
			}
		}
		s.data[table] = kept
		return nil, true, nil
	}

	if m := casRe.FindStringSubmatch(statement); m != nil {
		table, value, key := m[1], unquote(m[2]), unquote(m[3])
		for _, row := range s.data[table] {
			if !reflect.DeepEqual(row[key], values[1]) {
				continue
			}
			if reflect.DeepEqual(row[value], values[2]) {
				row[value] = values[0]
				return nil, true, nil
			}
			for k, v := range row {
				current[k] = v
			}
			return nil, false, nil
		}
		return nil, false, nil
	}

	return nil, false, fmt.Errorf("fake session can not run %q", statement)
}
