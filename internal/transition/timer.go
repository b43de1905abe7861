package transition

import (
	"fmt"

	"voxelcraft.ai/blockentity/internal/attr"
)

type Status int

const (
	Pending Status = iota
	Fired
	Disabled
)

func (s Status) String() string {
	switch s {
	case Fired:
		return "fired"
	case Disabled:
		return "disabled"
	default:
		return "pending"
	}
}

// Timer is the per-entity record. Threshold is an absolute calendar time in
// hours; it only moves forward, except through Reset on load.
type Timer struct {
	Rule      string
	Threshold float64
	Status    Status
}

const (
	keyRule      = "rule"
	keyThreshold = "threshold"
	keyStatus    = "status"
)

// Start creates a pending timer for rule at calendar time now.
func Start(rule Rule, now float64) *Timer {
	return &Timer{Rule: rule.Name, Threshold: now + rule.Hours}
}

// Due reports whether a pending timer has reached its threshold.
func (t *Timer) Due(now float64) bool {
	return t.Status == Pending && now >= t.Threshold
}

// Extend pushes the threshold forward, for example when fuel is added.
func (t *Timer) Extend(hours float64) error {
	if hours <= 0 {
		return fmt.Errorf("transition: extend by %v hours", hours)
	}
	t.Threshold += hours
	return nil
}

// Reset restarts the timer from now. Only load applies it, and only for rules
// marked reset_on_load.
func (t *Timer) Reset(rule Rule, now float64) {
	t.Threshold = now + rule.Hours
	if t.Status != Disabled {
		t.Status = Pending
	}
}

func (t *Timer) Encode() attr.Tree {
	return attr.New().
		SetStr(keyRule, t.Rule).
		SetFloat(keyThreshold, t.Threshold).
		SetInt(keyStatus, int64(t.Status))
}

// DecodeTimer reads a timer record. A missing or malformed record reports
// false so the caller starts a fresh timer.
func DecodeTimer(tree attr.Tree) (*Timer, bool) {
	if tree == nil {
		return nil, false
	}
	th, ok := tree.Float(keyThreshold)
	if !ok {
		return nil, false
	}
	t := &Timer{Threshold: th}
	t.Rule, _ = tree.Str(keyRule)
	if st, ok := tree.Int(keyStatus); ok && st >= int64(Pending) && st <= int64(Disabled) {
		t.Status = Status(st)
	}
	return t, true
}

// Load restores a timer from tree or starts one. reset_on_load rules restart
// from now.
func Load(tree attr.Tree, rule Rule, now float64) *Timer {
	t, ok := DecodeTimer(tree)
	if !ok {
		return Start(rule, now)
	}
	if t.Rule == "" {
		t.Rule = rule.Name
	}
	if rule.ResetOnLoad {
		t.Reset(rule, now)
	}
	return t
}

// HasTransition is the capability of block entities that decay over time.
type HasTransition interface {
	Transition() *Timer
}
