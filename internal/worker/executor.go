package worker

import (
	"context"
	"fmt"
	"go/token"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Executor runs command source text on a worker.
type Executor interface {
	Eval(ctx context.Context, src string, params map[string]any) (any, error)
	Exec(ctx context.Context, src string, params map[string]any) error
}

// Interpreter evaluates Go source with yaegi. Declarations made by
// parameterless statements persist for later commands on the same worker.
type Interpreter struct {
	mu sync.Mutex
	i  *interp.Interpreter
}

func NewInterpreter() (*Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	return &Interpreter{i: i}, nil
}

// Eval evaluates an expression and returns its value.
func (in *Interpreter) Eval(ctx context.Context, src string, params map[string]any) (any, error) {
	prog := src
	if len(params) > 0 {
		decls, err := bindParams(params)
		if err != nil {
			return nil, err
		}
		prog = "func() interface{} {\n" + decls + "return (" + src + ")\n}()"
	}

	v, err := in.run(ctx, prog)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, nil
	}
	return v.Interface(), nil
}

// Exec runs one or more statements.
func (in *Interpreter) Exec(ctx context.Context, src string, params map[string]any) error {
	prog := src
	if len(params) > 0 {
		decls, err := bindParams(params)
		if err != nil {
			return err
		}
		prog = "func() {\n" + decls + src + "\n}()"
	}
	_, err := in.run(ctx, prog)
	return err
}

func (in *Interpreter) run(ctx context.Context, prog string) (v reflect.Value, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return in.i.EvalWithContext(ctx, prog)
}

// bindParams renders params as local variable declarations.
func bindParams(params map[string]any) (string, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		if !token.IsIdentifier(name) {
			return "", fmt.Errorf("parameter %q is not a valid identifier", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		lit, err := literal(params[name])
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", name, err)
		}
		if lit == "nil" {
			fmt.Fprintf(&b, "var %s interface{}\n", name)
		} else {
			fmt.Fprintf(&b, "var %s = %s\n", name, lit)
		}
		fmt.Fprintf(&b, "_ = %s\n", name)
	}
	return b.String(), nil
}

// literal renders a JSON-decoded value as Go source. Whole numbers become int.
func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "nil", nil
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		return strconv.Quote(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10), nil
		}
		return "float64(" + strconv.FormatFloat(x, 'g', -1, 64) + ")", nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := literal(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[]interface{}{" + strings.Join(parts, ", ") + "}", nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			s, err := literal(x[k])
			if err != nil {
				return "", err
			}
			parts[i] = strconv.Quote(k) + ": " + s
		}
		return "map[string]interface{}{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}
