package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region parse
// Parse splits a condition on its single space-delimited operator token and
// resolves the right-hand literal: number, then bool, then quoted string, then bare string.
func Parse(condition string) (Condition, error) {
	var (
		found Op
		at    int
		count int
	)
	for _, op := range operatorTokens {
		token := " " + string(op) + " "
		n := strings.Count(condition, token)
		if n == 0 {
			continue
		}
		count += n
		found = op
		at = strings.Index(condition, token)
	}
	if count != 1 {
		return Condition{}, fmt.Errorf("%w: %q has %d operators", ErrUnparsable, condition, count)
	}

	left := strings.TrimSpace(condition[:at])
	right := strings.TrimSpace(condition[at+len(found)+2:])
	if left == "" || right == "" {
		return Condition{}, fmt.Errorf("%w: %q has an empty operand", ErrUnparsable, condition)
	}
	return Condition{Feature: left, Op: found, Literal: parseLiteral(right)}, nil
}

func parseLiteral(s string) Literal {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Literal{Kind: LiteralNumber, Num: n}
	}
	switch s {
	case "true":
		return Literal{Kind: LiteralBool, Bool: true}
	case "false":
		return Literal{Kind: LiteralBool, Bool: false}
	}
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return Literal{Kind: LiteralString, Str: s[1 : len(s)-1]}
		}
	}
	return Literal{Kind: LiteralString, Str: s}
}

// #endregion parse

// #region eval
// Eval reports whether the condition holds for v. An absent feature is false.
func (c Condition) Eval(v feature.Vector) bool {
	val, ok := v[c.Feature]
	if !ok || val == nil {
		return false
	}

	switch c.Literal.Kind {
	case LiteralNumber:
		if _, isBool := val.(bool); isBool {
			return c.Op == OpNE
		}
		n, ok := feature.Number(val)
		if !ok {
			return c.Op == OpNE
		}
		return compareOrdered(c.Op, n, c.Literal.Num)
	case LiteralBool:
		b, ok := val.(bool)
		if !ok {
			return c.Op == OpNE
		}
		switch c.Op {
		case OpEQ:
			return b == c.Literal.Bool
		case OpNE:
			return b != c.Literal.Bool
		}
		return false
	default:
		s, ok := val.(string)
		if !ok {
			return c.Op == OpNE
		}
		return compareOrdered(c.Op, s, c.Literal.Str)
	}
}

func compareOrdered[T float64 | string](op Op, a, b T) bool {
	switch op {
	case OpGT:
		return a > b
	case OpLT:
		return a < b
	case OpGE:
		return a >= b
	case OpLE:
		return a <= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

// #endregion eval
