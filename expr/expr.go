// Package expr evaluates the symbolic coefficient and forcing expressions of
// a run configuration. Expressions use HCL syntax over the variables bound at
// evaluation time (x, y and, for forcing, t), the constant pi, and a small
// table of math functions. The evaluator is a capability injected into the
// assembler, so tests can substitute plain Go functions.
package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Evaluator computes a scalar from variable bindings.
type Evaluator interface {
	Eval(vars map[string]float64) (float64, error)
}

// Func adapts a plain function to Evaluator, for deterministic test stubs.
type Func func(vars map[string]float64) (float64, error)

func (f Func) Eval(vars map[string]float64) (float64, error) { return f(vars) }

type hclEvaluator struct {
	src string
	e   hcl.Expression
}

// ParseScalar parses one expression clause.
func ParseScalar(src string) (Evaluator, error) {
	e, diags := hclsyntax.ParseExpression([]byte(padMinus(src)), "<expression>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("cannot parse expression %q: %s", src, diags.Error())
	}
	return &hclEvaluator{src: src, e: e}, nil
}

// padMinus spaces out minus signs before parsing. HCL identifiers may contain
// hyphens, so "x-1.5" would otherwise parse as a traversal of a variable
// named "x-1" instead of a subtraction. Exponent literals like 1e-6 keep
// their sign.
func padMinus(src string) string {
	var b strings.Builder
	for i, r := range src {
		if r == '-' && !isExponentMinus(src, i) {
			b.WriteString(" - ")
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isExponentMinus reports whether the minus at byte i is the sign of a
// floating-point exponent: digit or dot, then e or E, then the minus, then a
// digit.
func isExponentMinus(src string, i int) bool {
	if i < 2 || i+1 >= len(src) {
		return false
	}
	if src[i-1] != 'e' && src[i-1] != 'E' {
		return false
	}
	if d := src[i-2]; !('0' <= d && d <= '9') && d != '.' {
		return false
	}
	return '0' <= src[i+1] && src[i+1] <= '9'
}

// ParseVector parses a comma-separated expression list and requires exactly n
// clauses; the convection field must split into two.
func ParseVector(src string, n int) ([]Evaluator, error) {
	clauses := splitTopLevel(src)
	if len(clauses) != n {
		return nil, fmt.Errorf("expression %q must have exactly %d comma-separated clauses, found %d",
			src, n, len(clauses))
	}
	out := make([]Evaluator, n)
	for i, clause := range clauses {
		ev, err := ParseScalar(strings.TrimSpace(clause))
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// splitTopLevel splits on commas outside parentheses and brackets.
func splitTopLevel(src string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range src {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, src[start:i])
				start = i + 1
			}
		}
	}
	return append(out, src[start:])
}

func (h *hclEvaluator) Eval(vars map[string]float64) (float64, error) {
	vm := map[string]cty.Value{"pi": cty.NumberFloatVal(math.Pi)}
	for name, v := range vars {
		vm[name] = cty.NumberFloatVal(v)
	}
	val, diags := h.e.Value(&hcl.EvalContext{Variables: vm, Functions: mathFunctions})
	if diags.HasErrors() {
		return 0, fmt.Errorf("cannot evaluate %q: %s", h.src, diags.Error())
	}
	if val.Type() != cty.Number {
		return 0, fmt.Errorf("expression %q is not numeric", h.src)
	}
	f, _ := val.AsBigFloat().Float64()
	return f, nil
}

func unary(f func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			x, _ := args[0].AsBigFloat().Float64()
			return cty.NumberFloatVal(f(x)), nil
		},
	})
}

func binary(f func(a, b float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			a, _ := args[0].AsBigFloat().Float64()
			b, _ := args[1].AsBigFloat().Float64()
			return cty.NumberFloatVal(f(a, b)), nil
		},
	})
}

var mathFunctions = map[string]function.Function{
	"exp":  unary(math.Exp),
	"log":  unary(math.Log),
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"sqrt": unary(math.Sqrt),
	"abs":  unary(math.Abs),
	"pow":  binary(math.Pow),
	"min":  binary(math.Min),
	"max":  binary(math.Max),
}
