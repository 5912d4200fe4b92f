package cassandra

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

const (
	selectTemplate = `SELECT {{Columns .Columns}} FROM {{.Table}}` +
		`{{Where .Conditions}}{{if .AllowFiltering}} ALLOW FILTERING{{end}}`

	insertTemplate = `INSERT INTO {{.Table}} ({{Join .Columns ", "}})` +
		` VALUES ({{Binds .Columns}}){{if .IfNotExists}} IF NOT EXISTS{{end}}`

	deleteTemplate = `DELETE {{if .Columns}}{{Join .Columns ", "}} {{end}}FROM {{.Table}}{{Where .Conditions}}`

	casTemplate = `UPDATE {{.Table}} SET {{.Value}}=? WHERE {{.Key}}=? IF {{.Value}}=?`
)

var (
	funcMap = template.FuncMap{
		"Join":    strings.Join,
		"Binds":   bindsFunc,
		"Where":   whereFunc,
		"Columns": columnsFunc,
	}

	selectTmpl = template.Must(template.New("select").Funcs(funcMap).Parse(selectTemplate))
	insertTmpl = template.Must(template.New("insert").Funcs(funcMap).Parse(insertTemplate))
	deleteTmpl = template.Must(template.New("delete").Funcs(funcMap).Parse(deleteTemplate))
	casTmpl    = template.Must(template.New("cas").Funcs(funcMap).Parse(casTemplate))

	simpleIdentifier = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	// Reserved CQL keywords; they can only be used as identifiers when double quoted.
	reserved = map[string]struct{}{
		"add": {}, "allow": {}, "alter": {}, "and": {}, "apply": {}, "asc": {}, "authorize": {},
		"batch": {}, "begin": {}, "by": {}, "columnfamily": {}, "create": {}, "default": {},
		"delete": {}, "desc": {}, "describe": {}, "drop": {}, "entries": {}, "execute": {},
		"from": {}, "full": {}, "grant": {}, "if": {}, "in": {}, "index": {}, "infinity": {},
		"insert": {}, "into": {}, "is": {}, "keyspace": {}, "limit": {}, "materialized": {},
		"mbean": {}, "mbeans": {}, "modify": {}, "nan": {}, "norecursive": {}, "not": {},
		"null": {}, "of": {}, "on": {}, "or": {}, "order": {}, "primary": {}, "rename": {},
		"replace": {}, "revoke": {}, "schema": {}, "select": {}, "set": {}, "table": {}, "to": {},
		"token": {}, "truncate": {}, "unlogged": {}, "unset": {}, "update": {}, "use": {},
		"using": {}, "view": {}, "where": {}, "with": {},
	}
)

// Quote returns the identifier as it must appear in a statement: verbatim when it is a
// plain lower case name, double quoted when it is reserved or would otherwise be case folded.
func Quote(identifier string) string {
	if _, ok := reserved[identifier]; !ok && simpleIdentifier.MatchString(identifier) {
		return identifier
	}
	return strconv.Quote(identifier)
}

func quoteAll(identifiers []string) []string {
	r := make([]string, len(identifiers))
	for i, c := range identifiers {
		r[i] = Quote(c)
	}
	return r
}

func bindsFunc(columns []string) string {
	return strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
}

func whereFunc(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	cs := make([]string, len(conditions))
	for i, c := range conditions {
		cs[i] = c + "=?"
	}
	return " WHERE " + strings.Join(cs, " AND ")
}

func columnsFunc(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	return strings.Join(columns, ", ")
}

// statement holds the parts of a CQL statement; identifiers are quoted by the option setters.
type statement struct {
	Table          string
	Columns        []string
	Conditions     []string
	AllowFiltering bool
	IfNotExists    bool
	Key            string
	Value          string
}

// Option composes a statement.
type Option func(*statement)

// Table sets the target table, qualified by keyspace when one is given.
func Table(keyspace, table string) Option {
	return func(s *statement) {
		if keyspace == "" {
			s.Table = Quote(table)
			return
		}
		s.Table = Quote(keyspace) + "." + Quote(table)
	}
}

// Columns sets the selected, inserted or unset columns.
func Columns(columns []string) Option {
	return func(s *statement) {
		s.Columns = quoteAll(columns)
	}
}

// Conditions sets the equality predicates, ANDed, in bind order.
func Conditions(columns []string) Option {
	return func(s *statement) {
		s.Conditions = quoteAll(columns)
	}
}

// AllowFiltering relaxes a select that is not an equality lookup on the primary key.
func AllowFiltering(allow bool) Option {
	return func(s *statement) {
		s.AllowFiltering = allow
	}
}

// IfNotExists makes an insert a lightweight transaction.
func IfNotExists() Option {
	return func(s *statement) {
		s.IfNotExists = true
	}
}

// Counter sets the key and value columns of a compare-and-set update.
func Counter(keyColumn, valueColumn string) Option {
	return func(s *statement) {
		s.Key = Quote(keyColumn)
		s.Value = Quote(valueColumn)
	}
}

func render(tmpl *template.Template, opts []Option) (string, error) {
	var s statement
	for _, opt := range opts {
		opt(&s)
	}
	var bb bytes.Buffer
	err := tmpl.Execute(&bb, s)
	return bb.String(), err
}

// SelectStmt builds `SELECT * FROM t WHERE a=? AND b=?`.
func SelectStmt(opts ...Option) (string, error) {
	return render(selectTmpl, opts)
}

// InsertStmt builds `INSERT INTO t (a, b) VALUES (?, ?)`, an upsert in CQL.
func InsertStmt(opts ...Option) (string, error) {
	return render(insertTmpl, opts)
}

// DeleteStmt builds `DELETE a, b FROM t WHERE k=?`, or a whole row delete when no column is set.
func DeleteStmt(opts ...Option) (string, error) {
	return render(deleteTmpl, opts)
}

// CompareAndSetStmt builds the counter update `UPDATE t SET v=? WHERE k=? IF v=?`.
func CompareAndSetStmt(opts ...Option) (string, error) {
	return render(casTmpl, opts)
}
