// Package scan holds helpers for maintenance scans run through ogm.Dialect.ForEachTuple:
// a CEL row filter and a rate limiter, both wrapping a TupleConsumer.
package scan

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/sharedcode/ogm"
)

// Middleware decorates a consumer.
type Middleware func(next ogm.TupleConsumer) ogm.TupleConsumer

// Chain applies middlewares to consumer; the first one sees each row first.
func Chain(consumer ogm.TupleConsumer, middlewares ...Middleware) ogm.TupleConsumer {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			consumer = middlewares[i](consumer)
		}
	}
	return consumer
}

// Filter holds a compiled CEL predicate over one row. The expression sees the row's columns
// as `row` and its table name as `table`, e.g. `table == "users" && row.age >= 18`.
type Filter struct {
	Expression string
	program    cel.Program
}

// NewFilter compiles expression, which must evaluate to a bool. Dynamic expressions such as
// `row.active` are checked on each row instead.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("table", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression %q returns %v, want bool", expression, ast.OutputType())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %w", err)
	}
	return &Filter{Expression: expression, program: p}, nil
}

// Match evaluates the predicate against one row's columns.
func (f *Filter) Match(table string, columns map[string]any) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"row":   columns,
		"table": table,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression %q: %w", f.Expression, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned %v, want bool", f.Expression, out.Value())
	}
	return b, nil
}

// Wrap passes matching rows to next and drops the others. Evaluation errors stop the scan.
func (f *Filter) Wrap(next ogm.TupleConsumer) ogm.TupleConsumer {
	return func(ctx context.Context, metadata ogm.EntityKeyMetadata, tuple *ogm.Tuple) error {
		ok, err := f.Match(metadata.Table, tuple.Map())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return next(ctx, metadata, tuple)
	}
}
