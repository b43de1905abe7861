package attr

import (
	"encoding/json"
	"fmt"
)

// jsonValue is the tagged JSON form of a Value: exactly one field is set.
type jsonValue struct {
	I *int64           `json:"i,omitempty"`
	F *float64         `json:"f,omitempty"`
	S *string          `json:"s,omitempty"`
	B []byte           `json:"b,omitempty"`
	T map[string]Value `json:"t,omitempty"`
	L []Value          `json:"l,omitempty"`
	E bool             `json:"e,omitempty"` // empty bytes/tree/list marker
	K string           `json:"k,omitempty"` // kind, only set together with E
}

func (v Value) MarshalJSON() ([]byte, error) {
	var j jsonValue
	switch v.kind {
	case KindInt:
		j.I = &v.i
	case KindFloat:
		j.F = &v.f
	case KindString:
		j.S = &v.s
	case KindBytes:
		if len(v.b) == 0 {
			j.E, j.K = true, KindBytes.String()
		}
		j.B = v.b
	case KindTree:
		if len(v.t) == 0 {
			j.E, j.K = true, KindTree.String()
		}
		j.T = v.t
	case KindList:
		if len(v.l) == 0 {
			j.E, j.K = true, KindList.String()
		}
		j.L = v.l
	default:
		return []byte("null"), nil
	}
	return json.Marshal(j)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var j jsonValue
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("attr: %w", err)
	}
	switch {
	case j.I != nil:
		*v = Int(*j.I)
	case j.F != nil:
		*v = Float(*j.F)
	case j.S != nil:
		*v = String(*j.S)
	case j.B != nil:
		*v = Bytes(j.B)
	case j.T != nil:
		*v = Sub(Tree(j.T))
	case j.L != nil:
		*v = List(j.L...)
	case j.E:
		switch j.K {
		case "bytes":
			*v = Bytes(nil)
		case "tree":
			*v = Sub(Tree{})
		default:
			*v = List()
		}
	default:
		*v = Value{}
	}
	return nil
}

// EncodeJSON writes t with the version key, for debugging and schema tests.
func EncodeJSON(t Tree) ([]byte, error) {
	if _, ok := t[VersionKey]; ok {
		return nil, ErrReservedKey
	}
	out := make(Tree, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[VersionKey] = Int(Version)
	return json.Marshal(out)
}

func DecodeJSON(b []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("attr: decode json: %w", err)
	}
	if v, ok := t.Int(VersionKey); ok && v > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	delete(t, VersionKey)
	for k, v := range t {
		if !v.IsValid() {
			delete(t, k)
		}
	}
	return t, nil
}
