// Package condition evaluates edge conditions against a conversation scope.
//
// Grammar: {{name}} placeholders (and bare identifiers) reference variables,
// string literals use single or double quotes, numbers and true/false are
// literals, comparisons are == != < <= > >=, logic is && || ! (or and, or,
// not), and parentheses group. Every variable is a string; == and != compare
// numerically when both sides parse as numbers and as strings otherwise.
// Ordering comparisons are false unless both sides are numeric. A result that
// is not a bool is truthy when it is non-empty and not "false" or "0".
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/convoflow/pkg/scope"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Variables is the read side of a conversation scope.
type Variables interface {
	Get(name string) string
	All() map[string]string
}

// SyntaxError reports a condition that does not compile.
type SyntaxError struct {
	Expression string
	Err        error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition syntax error in %q: %v", e.Expression, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

type compiled struct {
	program *vm.Program
	// placeholder identifier -> variable name
	bindings map[string]string
	err      error
}

// Evaluator compiles conditions once and evaluates them many times.
// It is safe for concurrent use.
type Evaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*compiled
}

func New(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "condition"),
		cache:  make(map[string]*compiled),
	}
}

// Check compiles expression and returns a *SyntaxError when it is malformed.
func (e *Evaluator) Check(expression string) error {
	return e.compile(expression).err
}

// Evaluate never fails: malformed or failing expressions are logged and treated as false.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, vars Variables) bool {
	ok, err := e.Eval(expression, vars)
	if err != nil {
		e.logger.WarnContext(ctx, "condition treated as false", "expression", expression, "error", err)

		return false
	}

	return ok
}

// Eval is Evaluate with the error surfaced.
func (e *Evaluator) Eval(expression string, vars Variables) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	c := e.compile(expression)
	if c.err != nil {
		return false, c.err
	}

	env := make(map[string]any)
	for k, v := range vars.All() {
		env[k] = v
	}

	for ident, name := range c.bindings {
		env[ident] = vars.Get(name)
	}

	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expression, err)
	}

	return truthy(out), nil
}

func (e *Evaluator) compile(expression string) *compiled {
	e.mu.RLock()
	c, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return c
	}

	c = compileExpression(expression)

	e.mu.Lock()
	e.cache[expression] = c
	e.mu.Unlock()

	return c
}

func compileExpression(expression string) *compiled {
	bindings := make(map[string]string)
	byName := make(map[string]string)

	source := scope.ReplacePlaceholders(expression, func(name string) string {
		if ident, ok := byName[name]; ok {
			return ident
		}

		ident := "__ph" + strconv.Itoa(len(byName))
		byName[name] = ident
		bindings[ident] = name

		return ident
	})

	if strings.Contains(source, "{{") || strings.Contains(source, "}}") {
		return &compiled{err: &SyntaxError{Expression: expression, Err: fmt.Errorf("malformed placeholder")}}
	}

	tree, err := parser.Parse(source)
	if err != nil {
		return &compiled{err: &SyntaxError{Expression: expression, Err: err}}
	}

	g := &grammar{}
	ast.Walk(&tree.Node, g)

	if g.err != nil {
		return &compiled{err: &SyntaxError{Expression: expression, Err: g.err}}
	}

	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
		expr.Function("__eq", func(params ...any) (any, error) {
			return equal(params[0], params[1]), nil
		}, new(func(any, any) bool)),
		expr.Function("__ne", func(params ...any) (any, error) {
			return !equal(params[0], params[1]), nil
		}, new(func(any, any) bool)),
		expr.Function("__cmp", func(params ...any) (any, error) {
			op, _ := params[0].(string)

			return compare(op, params[1], params[2]), nil
		}, new(func(string, any, any) bool)),
		expr.Function("__truthy", func(params ...any) (any, error) {
			return truthy(params[0]), nil
		}, new(func(any) bool)),
		expr.Patch(&coercion{}),
	)
	if err != nil {
		return &compiled{err: &SyntaxError{Expression: expression, Err: err}}
	}

	return &compiled{program: program, bindings: bindings}
}

// grammar rejects every construct outside the documented condition language.
type grammar struct {
	err error
}

func (g *grammar) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.IdentifierNode, *ast.StringNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode:
	case *ast.BinaryNode:
		switch n.Operator {
		case "==", "!=", "<", "<=", ">", ">=", "&&", "||", "and", "or":
		default:
			g.err = fmt.Errorf("operator %q is not supported", n.Operator)
		}
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not":
		case "-", "+":
			switch n.Node.(type) {
			case *ast.IntegerNode, *ast.FloatNode:
			default:
				g.err = fmt.Errorf("sign %q only applies to number literals", n.Operator)
			}
		default:
			g.err = fmt.Errorf("operator %q is not supported", n.Operator)
		}
	default:
		g.err = fmt.Errorf("unsupported expression %T", n)
	}
}

// coercion rewrites operators into helpers that follow the string/number rules above.
type coercion struct{}

func (coercion) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "==":
			ast.Patch(node, call("__eq", n.Left, n.Right))
		case "!=":
			ast.Patch(node, call("__ne", n.Left, n.Right))
		case "<", "<=", ">", ">=":
			ast.Patch(node, call("__cmp", &ast.StringNode{Value: n.Operator}, n.Left, n.Right))
		case "&&", "||", "and", "or":
			n.Left = call("__truthy", n.Left)
			n.Right = call("__truthy", n.Right)
		}
	case *ast.UnaryNode:
		if n.Operator == "!" || n.Operator == "not" {
			n.Node = call("__truthy", n.Node)
		}
	}
}

func call(name string, args ...ast.Node) *ast.CallNode {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: name},
		Arguments: args,
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	fa, okA := number(a)
	fb, okB := number(b)

	if okA && okB {
		return fa == fb
	}

	return scope.Stringify(a) == scope.Stringify(b)
}

func compare(op string, a, b any) bool {
	fa, okA := number(a)
	fb, okB := number(b)

	if !okA || !okB {
		return false
	}

	switch op {
	case "<":
		return fa < fb
	case "<=":
		return fa <= fb
	case ">":
		return fa > fb
	case ">=":
		return fa >= fb
	default:
		return false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "false") {
			return false
		}

		if f, ok := number(s); ok {
			return f != 0
		}

		return true
	default:
		if f, ok := number(t); ok {
			return f != 0
		}

		return true
	}
}
