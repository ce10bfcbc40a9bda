// Package sqon models Arranger's serializable query object notation: a
// boolean tree of field predicates.
//
// Trees are immutable. Constructors validate their input and every
// combination returns a new tree, so a Node can be shared freely between
// goroutines. The absence of a filter is the MatchAll value, never an empty
// combination or an empty predicate.
package sqon

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

// Op is a SQON operator.
type Op string

const (
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	OpIn      Op = "in"
	OpNotIn   Op = "not-in"
	OpAll     Op = "all"
	OpGTE     Op = ">="
	OpLTE     Op = "<="
	OpBetween Op = "between"
)

// IsCombinator reports whether op combines child nodes.
func (op Op) IsCombinator() bool {
	switch op {
	case OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// IsPredicate reports whether op compares a field against values.
func (op Op) IsPredicate() bool {
	switch op {
	case OpIn, OpNotIn, OpAll, OpGTE, OpLTE, OpBetween:
		return true
	}
	return false
}

var (
	ErrEmptyValues      = errors.New("sqon: predicate needs at least one value")
	ErrEmptyField       = errors.New("sqon: predicate needs a field name")
	ErrEmptyCombination = errors.New("sqon: combination needs at least one child")
	ErrUnknownOp        = errors.New("sqon: unknown operator")
	ErrInvalidValue     = errors.New("sqon: predicate values must be strings, numbers or booleans")
)

// Node is a SQON tree. The implementations are *Predicate, *Combination and
// MatchAll.
type Node interface {
	Op() Op
	sealed()
}

type matchAll struct{}

func (matchAll) Op() Op  { return "" }
func (matchAll) sealed() {}

// MatchAll is the empty filter: every record matches.
var MatchAll Node = matchAll{}

// IsEmpty reports whether n filters nothing out. A nil Node is accepted at
// API boundaries and means the same as MatchAll.
func IsEmpty(n Node) bool {
	if n == nil {
		return true
	}
	switch v := n.(type) {
	case matchAll:
		return true
	case *Predicate:
		return v == nil
	case *Combination:
		return v == nil
	}
	return false
}

// Predicate compares one field against an ordered list of values.
type Predicate struct {
	op     Op
	field  string
	values []any
}

func (p *Predicate) Op() Op  { return p.op }
func (p *Predicate) sealed() {}

// Field returns the field name.
func (p *Predicate) Field() string { return p.field }

// Values returns a copy of the operand values.
func (p *Predicate) Values() []any { return slices.Clone(p.values) }

// NewPredicate builds a predicate for any predicate operator.
func NewPredicate(op Op, field string, values ...any) (*Predicate, error) {
	if !op.IsPredicate() {
		return nil, ErrUnknownOp
	}
	if strings.TrimSpace(field) == "" {
		return nil, ErrEmptyField
	}
	if len(values) == 0 {
		return nil, ErrEmptyValues
	}
	for _, v := range values {
		if !isScalar(v) {
			return nil, ErrInvalidValue
		}
	}
	return &Predicate{op: op, field: field, values: slices.Clone(values)}, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// In matches records whose field is one of values. An empty values list
// would match nothing and is rejected.
func In(field string, values ...any) (*Predicate, error) {
	return NewPredicate(OpIn, field, values...)
}

// InStrings is In for a string slice.
func InStrings(field string, values []string) (*Predicate, error) {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return In(field, vals...)
}

// Combination applies and/or/not to its children.
type Combination struct {
	op      Op
	content []Node
}

func (c *Combination) Op() Op  { return c.op }
func (c *Combination) sealed() {}

// Content returns a copy of the children.
func (c *Combination) Content() []Node { return slices.Clone(c.content) }

// And combines nodes with a logical and. Empty nodes are skipped. With one
// remaining node that node is returned as is; with none, ErrEmptyCombination.
func And(nodes ...Node) (Node, error) {
	return combine(OpAnd, nodes)
}

// Or combines nodes with a logical or, following the same rules as And.
func Or(nodes ...Node) (Node, error) {
	return combine(OpOr, nodes)
}

// Not negates nodes. It always wraps, even a single child.
func Not(nodes ...Node) (Node, error) {
	content := nonEmpty(nodes)
	if len(content) == 0 {
		return nil, ErrEmptyCombination
	}
	return &Combination{op: OpNot, content: content}, nil
}

func combine(op Op, nodes []Node) (Node, error) {
	content := nonEmpty(nodes)
	switch len(content) {
	case 0:
		return nil, ErrEmptyCombination
	case 1:
		return content[0], nil
	}
	return &Combination{op: op, content: content}, nil
}

func nonEmpty(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !IsEmpty(n) {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether a and b describe the same tree. Child order is
// significant.
func Equal(a, b Node) bool {
	if IsEmpty(a) || IsEmpty(b) {
		return IsEmpty(a) && IsEmpty(b)
	}
	switch x := a.(type) {
	case *Predicate:
		y, ok := b.(*Predicate)
		return ok && x.op == y.op && x.field == y.field && slices.Equal(x.values, y.values)
	case *Combination:
		y, ok := b.(*Combination)
		if !ok || x.op != y.op || len(x.content) != len(y.content) {
			return false
		}
		for i := range x.content {
			if !Equal(x.content[i], y.content[i]) {
				return false
			}
		}
		return true
	}
	return false
}
