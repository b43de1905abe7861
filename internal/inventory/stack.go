package inventory

import (
	"strconv"

	"voxelcraft.ai/blockentity/internal/attr"
)

// DefaultMaxStack is used when no per-item limit is known.
const DefaultMaxStack = 64

// Ref names an item type. Older saves carry only a numeric id, newer ones a
// code; a resolved reference carries both.
type Ref struct {
	Code string
	ID   int32
}

func (r Ref) IsZero() bool { return r.Code == "" && r.ID == 0 }

// Resolved reports whether the reference is bound to a live registry id.
func (r Ref) Resolved() bool { return r.ID != 0 }

func (r Ref) String() string {
	if r.Code != "" {
		return r.Code
	}
	return "#" + strconv.Itoa(int(r.ID))
}

// Identity is the cache/equality key of a stack: type plus attributes, never count.
type Identity string

// ItemStack is a quantity of one item type plus free-form attributes.
// A non-empty Loot names a loot table: the stack is a placeholder rolled into
// real items once, during id remapping.
type ItemStack struct {
	Ref   Ref
	Count int
	Attrs attr.Tree
	Loot  string
}

func NewStack(code string, count int) *ItemStack {
	return &ItemStack{Ref: Ref{Code: code}, Count: count}
}

func (s *ItemStack) IsEmpty() bool {
	return s == nil || s.Count <= 0 || (s.Ref.IsZero() && s.Loot == "")
}

func (s *ItemStack) Identity() Identity {
	if s.IsEmpty() {
		return ""
	}
	key := s.Ref.String()
	if s.Loot != "" {
		key = "loot:" + s.Loot
	}
	return Identity(key + "|" + s.Attrs.Digest())
}

// SameItem reports whether both stacks share an identity.
func (s *ItemStack) SameItem(o *ItemStack) bool {
	if s.IsEmpty() || o.IsEmpty() {
		return s.IsEmpty() && o.IsEmpty()
	}
	return s.Identity() == o.Identity()
}

func (s *ItemStack) Equal(o *ItemStack) bool {
	if s.IsEmpty() || o.IsEmpty() {
		return s.IsEmpty() && o.IsEmpty()
	}
	return s.SameItem(o) && s.Count == o.Count
}

func (s *ItemStack) Clone() *ItemStack {
	if s == nil {
		return nil
	}
	c := *s
	c.Attrs = s.Attrs.Clone()
	return &c
}

func (s *ItemStack) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	if s.Loot != "" {
		return "loot:" + s.Loot
	}
	return s.Ref.String() + "x" + strconv.Itoa(s.Count)
}

// identical is stricter than Equal: a reference gaining its resolved id is a change.
func identical(a, b *ItemStack) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() && b.IsEmpty()
	}
	return a.Ref == b.Ref && a.Count == b.Count && a.Loot == b.Loot && a.Attrs.Equal(b.Attrs)
}
