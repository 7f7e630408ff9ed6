// Package jsonwalk represents an arbitrary JSON document as a tagged tree and
// walks it with a typed visitor.
package jsonwalk

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by Parse for malformed input.
var ErrInvalidJSON = errors.New("invalid json")

// Kind tags the variant held by a Node.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "null"
}

// Field is one key of an object, in document order.
type Field struct {
	Key   string
	Value *Node
}

// Node is one value of the tree. Only the members matching Kind are set.
type Node struct {
	Kind   Kind
	Str    string
	Num    float64
	Bool   bool
	Items  []*Node
	Fields []Field
}

// Parse builds a tree from text.
func Parse(text string) (*Node, error) {
	text = strings.TrimSpace(text)
	if text == "" || !gjson.Valid(text) {
		return nil, ErrInvalidJSON
	}
	return FromResult(gjson.Parse(text)), nil
}

// FromResult converts a gjson result into a tree.
func FromResult(r gjson.Result) *Node {
	switch r.Type {
	case gjson.String:
		return &Node{Kind: String, Str: r.Str}
	case gjson.Number:
		return &Node{Kind: Number, Num: r.Num, Str: r.Raw}
	case gjson.True:
		return &Node{Kind: Bool, Bool: true}
	case gjson.False:
		return &Node{Kind: Bool}
	case gjson.JSON:
		if r.IsArray() {
			n := &Node{Kind: Array}
			r.ForEach(func(_, v gjson.Result) bool {
				n.Items = append(n.Items, FromResult(v))
				return true
			})
			return n
		}
		n := &Node{Kind: Object}
		r.ForEach(func(k, v gjson.Result) bool {
			n.Fields = append(n.Fields, Field{Key: k.String(), Value: FromResult(v)})
			return true
		})
		return n
	}
	return &Node{Kind: Null}
}

// Get returns the value of key on an object node, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != Object {
		return nil
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Path follows object keys and numeric array indexes.
func (n *Node) Path(keys ...string) *Node {
	cur := n
	for _, k := range keys {
		if cur == nil {
			return nil
		}
		if cur.Kind == Array {
			idx := 0
			for _, c := range k {
				if c < '0' || c > '9' {
					return nil
				}
				idx = idx*10 + int(c-'0')
			}
			if idx >= len(cur.Items) {
				return nil
			}
			cur = cur.Items[idx]
			continue
		}
		cur = cur.Get(k)
	}
	return cur
}

// Text returns the string value, or the raw number text, or "".
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case String, Number:
		return n.Str
	}
	return ""
}

// Int returns the numeric value truncated to int, or 0.
func (n *Node) Int() int {
	if n == nil || n.Kind != Number {
		return 0
	}
	return int(n.Num)
}

// Strings returns the string items of an array node.
func (n *Node) Strings() []string {
	if n == nil || n.Kind != Array {
		return nil
	}
	out := make([]string, 0, len(n.Items))
	for _, item := range n.Items {
		if item.Kind == String && item.Str != "" {
			out = append(out, item.Str)
		}
	}
	return out
}

// Visitor is called for every node in pre-order. Returning false skips the
// node's children.
type Visitor interface {
	Visit(key string, n *Node) bool
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(key string, n *Node) bool

func (f VisitorFunc) Visit(key string, n *Node) bool { return f(key, n) }

// Walk traverses n depth-first. key is the object key a node was found
// under, or "" for array items and the root.
func Walk(n *Node, v Visitor) {
	walk("", n, v)
}

func walk(key string, n *Node, v Visitor) {
	if n == nil || !v.Visit(key, n) {
		return
	}
	switch n.Kind {
	case Array:
		for _, item := range n.Items {
			walk("", item, v)
		}
	case Object:
		for _, f := range n.Fields {
			walk(f.Key, f.Value, v)
		}
	}
}

// FindAll returns every node stored under key anywhere in the tree, in
// document order.
func FindAll(n *Node, key string) []*Node {
	var found []*Node
	Walk(n, VisitorFunc(func(k string, node *Node) bool {
		if k == key {
			found = append(found, node)
		}
		return true
	}))
	return found
}

// URLCollector gathers string leaves that look like URLs and contain at
// least one marker. An empty marker list accepts every URL.
type URLCollector struct {
	Markers []string
	URLs    []string
}

// Visit implements Visitor.
func (c *URLCollector) Visit(_ string, n *Node) bool {
	if n.Kind != String || !strings.HasPrefix(n.Str, "http") {
		return true
	}
	if len(c.Markers) == 0 {
		c.URLs = append(c.URLs, n.Str)
		return true
	}
	lower := strings.ToLower(n.Str)
	for _, m := range c.Markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			c.URLs = append(c.URLs, n.Str)
			break
		}
	}
	return true
}
