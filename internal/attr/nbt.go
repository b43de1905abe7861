package attr

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

var (
	ErrMixedList          = errors.New("attr: list elements differ in kind")
	ErrUnsupportedVersion = errors.New("attr: unsupported tree version")
	ErrReservedKey        = errors.New("attr: root key " + VersionKey + " is reserved")
)

// EncodeNBT writes t as a little-endian NBT compound with the version key set.
// A root that already holds VersionKey is refused; nested trees may use it.
func EncodeNBT(t Tree) ([]byte, error) {
	if _, ok := t[VersionKey]; ok {
		return nil, ErrReservedKey
	}
	root, err := treeToNBT(t)
	if err != nil {
		return nil, err
	}
	root[VersionKey] = int64(Version)
	return nbt.MarshalEncoding(root, nbt.LittleEndian)
}

// DecodeNBT is the inverse of EncodeNBT. Trees written by an older version
// decode as-is; unknown keys are kept so callers can ignore them.
func DecodeNBT(b []byte) (Tree, error) {
	var root map[string]any
	if err := nbt.UnmarshalEncoding(b, &root, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("attr: decode nbt: %w", err)
	}
	t := treeFromNBT(root)
	if v, ok := t.Int(VersionKey); ok && v > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	delete(t, VersionKey)
	return t, nil
}

func treeToNBT(t Tree) (map[string]any, error) {
	out := make(map[string]any, len(t))
	for k, v := range t {
		if !v.IsValid() {
			continue
		}
		n, err := valueToNBT(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func valueToNBT(v Value) (any, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindFloat:
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindBytes:
		// Fixed-size arrays encode as TAG_ByteArray, which keeps bytes distinct
		// from a list of small ints after a round trip.
		arr := reflect.New(reflect.ArrayOf(len(v.b), reflect.TypeOf(byte(0)))).Elem()
		reflect.Copy(arr, reflect.ValueOf(v.b))
		return arr.Interface(), nil
	case KindTree:
		return treeToNBT(v.t)
	case KindList:
		return listToNBT(v.l)
	}
	return nil, fmt.Errorf("attr: cannot encode %s", v.kind)
}

func listToNBT(l []Value) (any, error) {
	if len(l) == 0 {
		return []any{}, nil
	}
	kind := l[0].kind
	for _, e := range l[1:] {
		if e.kind != kind {
			return nil, ErrMixedList
		}
	}
	switch kind {
	case KindInt:
		out := make([]int64, len(l))
		for i, e := range l {
			out[i] = e.i
		}
		return out, nil
	case KindFloat:
		out := make([]float64, len(l))
		for i, e := range l {
			out[i] = e.f
		}
		return out, nil
	case KindString:
		out := make([]string, len(l))
		for i, e := range l {
			out[i] = e.s
		}
		return out, nil
	case KindTree:
		out := make([]map[string]any, len(l))
		for i, e := range l {
			m, err := treeToNBT(e.t)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}
	out := make([]any, len(l))
	for i, e := range l {
		n, err := valueToNBT(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func treeFromNBT(m map[string]any) Tree {
	t := make(Tree, len(m))
	for k, raw := range m {
		if v := valueFromNBT(raw); v.IsValid() {
			t[k] = v
		}
	}
	return t
}

func valueFromNBT(raw any) Value {
	switch x := raw.(type) {
	case byte:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case map[string]any:
		return Sub(treeFromNBT(x))
	case []map[string]any:
		out := make([]Value, len(x))
		for i := range x {
			out[i] = Sub(treeFromNBT(x[i]))
		}
		return List(out...)
	case []any:
		out := make([]Value, 0, len(x))
		for _, e := range x {
			if v := valueFromNBT(e); v.IsValid() {
				out = append(out, v)
			}
		}
		return List(out...)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Bytes(b)
		}
		fallthrough
	case reflect.Slice:
		out := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if v := valueFromNBT(rv.Index(i).Interface()); v.IsValid() {
				out = append(out, v)
			}
		}
		return List(out...)
	}
	return Value{}
}
