package attr

import (
	"errors"
	"testing"
)

func sample() Tree {
	return New().
		SetInt("count", 3).
		SetFloat("heat", 0.75).
		SetStr("code", "wood-oak").
		Set("blob", Bytes([]byte{0, 1, 2, 255})).
		SetTree("nested", New().SetStr("owner", "p1").Set("tags", List(String("a"), String("b")))).
		Set("slots", List(Sub(New().SetInt("i", 0)), Sub(New().SetInt("i", 1)))).
		Set("empty", List())
}

func TestNBT_RoundTrip(t *testing.T) {
	in := sample()
	b, err := EncodeNBT(in)
	if err != nil {
		t.Fatalf("EncodeNBT: %v", err)
	}
	out, err := DecodeNBT(b)
	if err != nil {
		t.Fatalf("DecodeNBT: %v", err)
	}
	if !in.Equal(out) {
		t.Fatalf("round trip mismatch:\n in=%v\nout=%v", in, out)
	}
	if out.Has(VersionKey) {
		t.Fatalf("version key leaked into decoded tree")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	in := sample()
	b, err := EncodeJSON(in)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	out, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !in.Equal(out) {
		t.Fatalf("round trip mismatch:\n in=%v\nout=%v", in, out)
	}
}

func TestDecode_RejectsFutureVersion(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"_v":{"i":99},"x":{"i":1}}`))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecode_ToleratesUnknownFields(t *testing.T) {
	tr, err := DecodeJSON([]byte(`{"_v":{"i":1},"count":{"i":2},"future_field":{"s":"x"}}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if n, ok := tr.Int("count"); !ok || n != 2 {
		t.Fatalf("count: got %d ok=%v", n, ok)
	}
}

func TestEncodeNBT_MixedList(t *testing.T) {
	tr := New().Set("l", List(Int(1), String("x")))
	if _, err := EncodeNBT(tr); !errors.Is(err, ErrMixedList) {
		t.Fatalf("expected ErrMixedList, got %v", err)
	}
}

func TestEncode_RefusesRootVersionKey(t *testing.T) {
	tr := New().SetInt(VersionKey, 7).SetStr("name", "x")
	if _, err := EncodeNBT(tr); !errors.Is(err, ErrReservedKey) {
		t.Fatalf("nbt: expected ErrReservedKey, got %v", err)
	}
	if _, err := EncodeJSON(tr); !errors.Is(err, ErrReservedKey) {
		t.Fatalf("json: expected ErrReservedKey, got %v", err)
	}

	nested := New().SetTree("sub", New().SetInt(VersionKey, 7))
	b, err := EncodeNBT(nested)
	if err != nil {
		t.Fatalf("EncodeNBT nested: %v", err)
	}
	out, err := DecodeNBT(b)
	if err != nil {
		t.Fatalf("DecodeNBT: %v", err)
	}
	sub, _ := out.Tree("sub")
	if v, ok := sub.Int(VersionKey); !ok || v != 7 {
		t.Fatalf("nested %s: got %d ok=%v", VersionKey, v, ok)
	}
}

func TestAccessors_KindMismatch(t *testing.T) {
	tr := New().SetStr("s", "x")
	if _, ok := tr.Int("s"); ok {
		t.Fatalf("Int on string should fail")
	}
	if _, ok := tr.Tree("missing"); ok {
		t.Fatalf("Tree on missing key should fail")
	}
	var nilTree Tree
	if _, ok := nilTree.Str("s"); ok {
		t.Fatalf("nil tree should read as empty")
	}
	if got := tr.IntOr("s", 7); got != 7 {
		t.Fatalf("IntOr fallback: got %d", got)
	}
}

func TestDigest_StableAndContentKeyed(t *testing.T) {
	a := New().SetStr("k", "v").SetInt("n", 1)
	b := New().SetInt("n", 1).SetStr("k", "v")
	if a.Digest() != b.Digest() {
		t.Fatalf("digest depends on insertion order")
	}
	if a.Digest() == New().SetStr("k", "w").SetInt("n", 1).Digest() {
		t.Fatalf("digest ignores content")
	}
	var nilTree Tree
	if nilTree.Digest() != New().Digest() {
		t.Fatalf("nil and empty trees should share a digest")
	}
}

func TestClone_IsDeep(t *testing.T) {
	in := sample()
	c := in.Clone()
	nested, _ := c.Tree("nested")
	nested.SetStr("owner", "p2")
	orig, _ := in.Tree("nested")
	if s, _ := orig.Str("owner"); s != "p1" {
		t.Fatalf("clone shares nested tree: owner=%q", s)
	}
}
