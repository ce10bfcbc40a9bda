package sqon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireNode struct {
	Op      Op              `json:"op"`
	Content json.RawMessage `json:"content,omitempty"`
}

type wirePredicate struct {
	FieldName string `json:"fieldName"`
	Value     []any  `json:"value"`
}

type wireCombination struct {
	Op      Op     `json:"op"`
	Content []Node `json:"content"`
}

type wirePredicateNode struct {
	Op      Op            `json:"op"`
	Content wirePredicate `json:"content"`
}

func (matchAll) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (p *Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePredicateNode{
		Op:      p.op,
		Content: wirePredicate{FieldName: p.field, Value: p.values},
	})
}

func (c *Combination) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCombination{Op: c.op, Content: c.content})
}

// Marshal encodes n in Arranger's wire format. An empty filter encodes as
// null.
func Marshal(n Node) ([]byte, error) {
	if IsEmpty(n) {
		return []byte("null"), nil
	}
	return json.Marshal(n)
}

// Parse decodes a SQON. null, {} and combinations without children decode
// to MatchAll. The structure is otherwise kept as sent: a combination with a
// single child stays wrapped.
func Parse(data []byte) (Node, error) {
	n, err := parseNode(data, "$")
	if err != nil {
		return nil, err
	}
	if n == nil {
		return MatchAll, nil
	}
	return n, nil
}

// parseNode returns a nil Node for empty input.
func parseNode(data []byte, path string) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch {
	case w.Op == "" && len(w.Content) == 0:
		return nil, nil
	case w.Op.IsCombinator():
		return parseCombination(w, path)
	case w.Op.IsPredicate():
		return parsePredicate(w, path)
	}
	return nil, fmt.Errorf("%s: %w %q", path, ErrUnknownOp, w.Op)
}

func parseCombination(w wireNode, path string) (Node, error) {
	var raw []json.RawMessage
	if len(w.Content) > 0 {
		if err := json.Unmarshal(w.Content, &raw); err != nil {
			return nil, fmt.Errorf("%s.content: %w", path, err)
		}
	}

	content := make([]Node, 0, len(raw))
	for i, r := range raw {
		child, err := parseNode(r, fmt.Sprintf("%s.content[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if child != nil {
			content = append(content, child)
		}
	}
	if len(content) == 0 {
		return nil, nil
	}
	return &Combination{op: w.Op, content: content}, nil
}

func parsePredicate(w wireNode, path string) (Node, error) {
	var content struct {
		FieldName string          `json:"fieldName"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(w.Content, &content); err != nil {
		return nil, fmt.Errorf("%s.content: %w", path, err)
	}

	values, err := decodeValues(content.Value)
	if err != nil {
		return nil, fmt.Errorf("%s.content.value: %w", path, err)
	}
	p, err := NewPredicate(w.Op, content.FieldName, values...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// decodeValues accepts a list or a single scalar. Numbers stay json.Number
// so they re-encode exactly as received.
func decodeValues(raw json.RawMessage) ([]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if raw[0] == '[' {
		var values []any
		if err := dec.Decode(&values); err != nil {
			return nil, err
		}
		return values, nil
	}

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return []any{v}, nil
}

// Filter carries a Node through encoding/json, for request and response
// bodies.
type Filter struct {
	Node Node
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return Marshal(f.Node)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	n, err := Parse(data)
	if err != nil {
		return err
	}
	f.Node = n
	return nil
}
