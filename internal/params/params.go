// Package params implements the parameter-substitution context used while
// building netlists and scoring device measurements. Scopes are pushed per
// subcircuit instance; expressions are SPICE-style arithmetic over parameter
// names, evaluated by compiling them as CUE.
package params

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ErrEvaluation is wrapped by every expression failure.
var ErrEvaluation = errors.New("parameter evaluation failed")

// Context is a stack of parameter scopes. The innermost scope wins.
type Context struct {
	cue    *cue.Context
	scopes []map[string]float64
}

// New returns a context with one empty global scope.
func New() *Context {
	return &Context{
		cue:    cuecontext.New(),
		scopes: []map[string]float64{{}},
	}
}

// Depth is the number of pushed scopes, the global scope included.
func (c *Context) Depth() int {
	return len(c.scopes)
}

// Set binds name in the innermost scope.
func (c *Context) Set(name string, v float64) {
	c.scopes[len(c.scopes)-1][strings.ToLower(name)] = v
}

// Lookup resolves name from the innermost scope outwards.
func (c *Context) Lookup(name string) (float64, bool) {
	name = strings.ToLower(name)
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i][name]; ok {
			return v, true
		}
	}
	return 0, false
}

// Push opens a subcircuit scope. overrides are the instance parameters and
// are evaluated against the enclosing scopes; defaults are the master's own
// parameters and may refer to each other and to the overrides.
func (c *Context) Push(defaults, overrides map[string]string) error {
	outer := len(c.scopes)
	scope := make(map[string]float64, len(defaults)+len(overrides))
	for _, name := range sortedKeys(overrides) {
		v, err := c.evalOuter(overrides[name], outer, nil)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		scope[strings.ToLower(name)] = v
	}
	c.scopes = append(c.scopes, scope)

	rest := make(map[string]string, len(defaults))
	for k, e := range defaults {
		if _, ok := scope[strings.ToLower(k)]; !ok {
			rest[k] = e
		}
	}
	if err := c.bind(rest); err != nil {
		c.Pop()
		return err
	}
	return nil
}

// PushValues opens a scope with already evaluated values.
func (c *Context) PushValues(values map[string]float64) {
	scope := make(map[string]float64, len(values))
	for k, v := range values {
		scope[strings.ToLower(k)] = v
	}
	c.scopes = append(c.scopes, scope)
}

// Snapshot collapses every visible binding into one map, inner scopes
// shadowing outer ones.
func (c *Context) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	for _, scope := range c.scopes {
		for k, v := range scope {
			out[k] = v
		}
	}
	return out
}

// Pop closes the innermost scope. The global scope is never popped.
func (c *Context) Pop() {
	if len(c.scopes) > 1 {
		c.scopes = c.scopes[:len(c.scopes)-1]
	}
}

// bind evaluates exprs into the innermost scope, retrying until no further
// expression resolves so that siblings may reference each other.
func (c *Context) bind(exprs map[string]string) error {
	scope := c.scopes[len(c.scopes)-1]
	pending := sortedKeys(exprs)
	for len(pending) > 0 {
		var next []string
		var lastErr error
		for _, name := range pending {
			v, err := c.evalOuter(exprs[name], len(c.scopes)-1, scope)
			if err != nil {
				next = append(next, name)
				lastErr = err
				continue
			}
			scope[strings.ToLower(name)] = v
		}
		if len(next) == len(pending) {
			return fmt.Errorf("parameter %s: %w", next[0], lastErr)
		}
		pending = next
	}
	return nil
}

// Eval evaluates expr in the current scope stack.
func (c *Context) Eval(expr string) (float64, error) {
	return c.evalOuter(expr, len(c.scopes), nil)
}

// evalOuter resolves identifiers in partial first, then in scopes[:limit].
func (c *Context) evalOuter(expr string, limit int, partial map[string]float64) (float64, error) {
	expr = unquote(expr)
	if v, ok := ParseNumber(expr); ok {
		return v, nil
	}
	lookup := func(name string) (float64, bool) {
		name = strings.ToLower(name)
		if v, ok := partial[name]; ok {
			return v, true
		}
		for i := limit - 1; i >= 0; i-- {
			if v, ok := c.scopes[i][name]; ok {
				return v, true
			}
		}
		return 0, false
	}
	src, usesMath, err := translate(expr, lookup)
	if err != nil {
		return 0, fmt.Errorf("%q: %w: %v", expr, ErrEvaluation, err)
	}
	return c.compile(expr, src, usesMath)
}

func (c *Context) compile(expr, src string, usesMath bool) (float64, error) {
	var b strings.Builder
	if usesMath {
		b.WriteString("import \"math\"\n")
	}
	b.WriteString("out: ")
	b.WriteString(src)
	b.WriteString("\n")

	v := c.cue.CompileString(b.String())
	if v.Err() != nil {
		return 0, fmt.Errorf("%q: %w: %v", expr, ErrEvaluation, v.Err())
	}
	out := v.LookupPath(cue.ParsePath("out"))
	if err := out.Err(); err != nil {
		return 0, fmt.Errorf("%q: %w: %v", expr, ErrEvaluation, err)
	}
	f, err := out.Float64()
	if err != nil {
		return 0, fmt.Errorf("%q: %w: %v", expr, ErrEvaluation, err)
	}
	return f, nil
}

// EvalAll evaluates every expression. Values that fail are returned in the
// second map, keyed like the input, so they can be retried later.
func (c *Context) EvalAll(exprs map[string]string) (map[string]float64, map[string]string) {
	values := make(map[string]float64, len(exprs))
	var failed map[string]string
	for k, e := range exprs {
		v, err := c.Eval(e)
		if err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[k] = e
			continue
		}
		values[strings.ToLower(k)] = v
	}
	return values, failed
}

// Expand rewrites a parameter string: quoted or braced expressions and SPICE
// numbers become plain numbers, anything else is returned unchanged.
func (c *Context) Expand(s string) (string, error) {
	t := strings.TrimSpace(s)
	if isQuoted(t) {
		v, err := c.Eval(t)
		if err != nil {
			return "", err
		}
		return FormatNumber(v), nil
	}
	if v, ok := ParseNumber(t); ok {
		return FormatNumber(v), nil
	}
	return s, nil
}

// FormatNumber renders v in the shortest exact form.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '{' && s[len(s)-1] == '}')
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if isQuoted(s) {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
