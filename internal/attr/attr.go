// Package attr implements the attribute tree: the hierarchical, self-describing
// record used for every persisted block entity and every network snapshot.
//
// A Tree maps keys to tagged Values. Accessors never panic; a missing key or a
// kind mismatch reports ok=false so callers can degrade per slot or per field.
package attr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Version is the current encoding version written at the root of every
// encoded tree under VersionKey.
const Version = 1

const VersionKey = "_v"

type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTree
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTree:
		return "tree"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a tagged variant. The zero Value is KindInvalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	t    Tree
	l    []Value
}

func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value   { return Value{kind: KindBytes, b: append([]byte(nil), v...)} }
func Sub(t Tree) Value       { return Value{kind: KindTree, t: t} }
func List(vs ...Value) Value { return Value{kind: KindList, l: vs} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

func (v Value) AsTree() (Tree, bool) {
	if v.kind != KindTree {
		return nil, false
	}
	return v.t, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.l, true
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.b)
	case KindTree:
		return Sub(v.t.Clone())
	case KindList:
		out := make([]Value, len(v.l))
		for i := range v.l {
			out[i] = v.l[i].Clone()
		}
		return List(out...)
	}
	return v
}

// Equal reports deep equality. An Int and a Float holding the same number are
// not equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindTree:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Tree is a string-keyed record. A nil Tree is a valid empty tree for reads.
type Tree map[string]Value

func New() Tree { return Tree{} }

func (t Tree) Set(key string, v Value) Tree {
	t[key] = v
	return t
}

func (t Tree) SetInt(key string, v int64) Tree     { return t.Set(key, Int(v)) }
func (t Tree) SetFloat(key string, v float64) Tree { return t.Set(key, Float(v)) }
func (t Tree) SetStr(key, v string) Tree           { return t.Set(key, String(v)) }
func (t Tree) SetTree(key string, v Tree) Tree     { return t.Set(key, Sub(v)) }

func (t Tree) Get(key string) (Value, bool) {
	v, ok := t[key]
	if !ok || !v.IsValid() {
		return Value{}, false
	}
	return v, true
}

func (t Tree) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

func (t Tree) Int(key string) (int64, bool)     { return t[key].AsInt() }
func (t Tree) Float(key string) (float64, bool) { return t[key].AsFloat() }
func (t Tree) Str(key string) (string, bool)    { return t[key].AsString() }
func (t Tree) Tree(key string) (Tree, bool)     { return t[key].AsTree() }
func (t Tree) List(key string) ([]Value, bool)  { return t[key].AsList() }

// IntOr returns the int at key, or def when it is absent or of another kind.
func (t Tree) IntOr(key string, def int64) int64 {
	if v, ok := t.Int(key); ok {
		return v
	}
	return def
}

func (t Tree) StrOr(key, def string) string {
	if v, ok := t.Str(key); ok {
		return v
	}
	return def
}

// Keys returns the keys in sorted order.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = v.Clone()
	}
	return out
}

// Equal treats nil and empty trees as equal.
func (t Tree) Equal(o Tree) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Digest is a stable sha256 hex over the canonical JSON form. Empty and nil
// trees share a digest.
func (t Tree) Digest() string {
	if len(t) == 0 {
		return emptyDigest
	}
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var emptyDigest = func() string {
	sum := sha256.Sum256([]byte("{}"))
	return hex.EncodeToString(sum[:])
}()
