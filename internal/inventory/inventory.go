// Package inventory holds the fixed-length slot sequence shared by every
// container. Slot indices are the serialization and wire key, so the length
// never changes after New.
//
// The simulation mutates an Inventory from its own tick goroutine only. A
// renderer on another goroutine may read slots; every access goes through a
// short-lived lock that is never held while listeners run.
package inventory

import (
	"errors"
	"sync"
)

var ErrSlotOutOfRange = errors.New("inventory: slot index out of range")

// Listener observes a slot change. old and new are private copies.
type Listener func(index int, old, new *ItemStack)

type Inventory struct {
	mu        sync.Mutex
	slots     []*ItemStack
	rev       uint64
	listeners []Listener
}

func New(size int) *Inventory {
	if size < 0 {
		size = 0
	}
	return &Inventory{slots: make([]*ItemStack, size)}
}

func (inv *Inventory) Len() int { return len(inv.slots) }

func (inv *Inventory) InRange(i int) bool { return i >= 0 && i < len(inv.slots) }

// Revision increases on every content change.
func (inv *Inventory) Revision() uint64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.rev
}

func (inv *Inventory) OnContentChanged(fn Listener) {
	if fn == nil {
		return
	}
	inv.mu.Lock()
	inv.listeners = append(inv.listeners, fn)
	inv.mu.Unlock()
}

// Read returns a copy of slot i, or nil for an empty slot.
func (inv *Inventory) Read(i int) (*ItemStack, error) {
	if !inv.InRange(i) {
		return nil, ErrSlotOutOfRange
	}
	inv.mu.Lock()
	s := inv.slots[i].Clone()
	inv.mu.Unlock()
	return s, nil
}

// Snapshot copies every slot in order.
func (inv *Inventory) Snapshot() []*ItemStack {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]*ItemStack, len(inv.slots))
	for i, s := range inv.slots {
		out[i] = s.Clone()
	}
	return out
}

func (inv *Inventory) NonEmpty() []int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []int
	for i, s := range inv.slots {
		if !s.IsEmpty() {
			out = append(out, i)
		}
	}
	return out
}

func (inv *Inventory) IsEmpty() bool { return len(inv.NonEmpty()) == 0 }

// Set replaces slot i. An empty stack clears the slot.
func (inv *Inventory) Set(i int, s *ItemStack) error {
	if !inv.InRange(i) {
		return ErrSlotOutOfRange
	}
	if s.IsEmpty() {
		s = nil
	} else {
		s = s.Clone()
	}
	inv.mu.Lock()
	old := inv.slots[i]
	if identical(old, s) {
		inv.mu.Unlock()
		return nil
	}
	inv.slots[i] = s
	inv.rev++
	ls := inv.listeners
	inv.mu.Unlock()

	inv.notify(ls, i, old, s)
	return nil
}

func (inv *Inventory) Clear(i int) error { return inv.Set(i, nil) }

// Take removes up to n items from slot i and returns them.
func (inv *Inventory) Take(i, n int) (*ItemStack, error) {
	if !inv.InRange(i) {
		return nil, ErrSlotOutOfRange
	}
	inv.mu.Lock()
	cur := inv.slots[i]
	if cur.IsEmpty() || n <= 0 {
		inv.mu.Unlock()
		return nil, nil
	}
	if n > cur.Count {
		n = cur.Count
	}
	taken := cur.Clone()
	taken.Count = n
	var next *ItemStack
	if cur.Count > n {
		next = cur.Clone()
		next.Count -= n
	}
	inv.slots[i] = next
	inv.rev++
	ls := inv.listeners
	inv.mu.Unlock()

	inv.notify(ls, i, cur, next)
	return taken, nil
}

// Insert merges s into matching stacks first, then empty slots, and returns
// the count that did not fit.
func (inv *Inventory) Insert(s *ItemStack, maxStack int) int {
	if s.IsEmpty() {
		return 0
	}
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	left := s.Count
	for pass := 0; pass < 2 && left > 0; pass++ {
		for i := 0; i < inv.Len() && left > 0; i++ {
			cur, _ := inv.Read(i)
			switch {
			case pass == 0 && !cur.IsEmpty() && cur.SameItem(s) && cur.Count < maxStack:
				add := min(maxStack-cur.Count, left)
				cur.Count += add
				_ = inv.Set(i, cur)
				left -= add
			case pass == 1 && cur.IsEmpty():
				put := s.Clone()
				put.Count = min(maxStack, left)
				_ = inv.Set(i, put)
				left -= put.Count
			}
		}
	}
	return left
}

// Replace loads stacks slot by slot, notifying only for slots that changed.
// Extra stacks are ignored; missing ones clear the slot.
func (inv *Inventory) Replace(stacks []*ItemStack) {
	for i := 0; i < inv.Len(); i++ {
		var s *ItemStack
		if i < len(stacks) {
			s = stacks[i]
		}
		_ = inv.Set(i, s)
	}
}

func (inv *Inventory) notify(ls []Listener, i int, old, new *ItemStack) {
	for _, fn := range ls {
		fn(i, old.Clone(), new.Clone())
	}
}
