package transition

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"voxelcraft.ai/blockentity/internal/attr"
)

type blockSet map[string]bool

func (b blockSet) HasBlock(code string) bool { return b[code] }

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPattern_MatchExpand(t *testing.T) {
	p, err := ParsePattern("pile-*-rotten")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w, ok := p.Match("pile-apple-rotten")
	if !ok || w != "apple" {
		t.Fatalf("match: %q %v", w, ok)
	}
	if _, ok := p.Match("pile--rotten"); ok {
		t.Fatalf("wildcard must match something")
	}
	if got := p.Expand("bread"); got != "pile-bread-rotten" {
		t.Fatalf("expand: %q", got)
	}
	fixed, _ := ParsePattern("stone")
	if _, ok := fixed.Match("stone"); !ok || fixed.Expand("x") != "stone" {
		t.Fatalf("fixed pattern")
	}
	if _, err := ParsePattern("a-*-*"); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("two wildcards: %v", err)
	}
	if _, err := ParsePattern(" "); !errors.Is(err, ErrMalformedPattern) {
		t.Fatalf("empty: %v", err)
	}
}

func TestScenarioD_FiresAtThresholdNotBefore(t *testing.T) {
	rules := map[string]Rule{"burn": {From: "wood-*", To: "ash-*", Hours: 8}}
	s := NewScheduler(rules, blockSet{"ash-oak": true}, 1, quiet())
	rule, _ := s.Rule("burn")
	timer := Start(rule, 100)
	T := timer.Threshold

	if got, ok := s.Check(T-1e-9, timer, "wood-oak"); ok {
		t.Fatalf("fired early: %q", got)
	}
	if timer.Status != Pending {
		t.Fatalf("status before threshold: %s", timer.Status)
	}
	got, ok := s.Check(T, timer, "wood-oak")
	if !ok || got != "ash-oak" {
		t.Fatalf("at threshold: %q %v", got, ok)
	}
	if timer.Status != Fired {
		t.Fatalf("status: %s", timer.Status)
	}
	if _, ok := s.Check(T+1, timer, "wood-oak"); ok {
		t.Fatalf("fired twice")
	}
}

func TestCheck_MissingTargetStaysPending(t *testing.T) {
	rules := map[string]Rule{"burn": {From: "wood-*", To: "ash-*", Hours: 1}}
	blocks := blockSet{}
	s := NewScheduler(rules, blocks, 1, quiet())
	rule, _ := s.Rule("burn")
	timer := Start(rule, 0)
	if _, ok := s.Check(5, timer, "wood-maple"); ok || timer.Status != Pending {
		t.Fatalf("missing target: status %s", timer.Status)
	}
	blocks["ash-maple"] = true
	if got, ok := s.Check(6, timer, "wood-maple"); !ok || got != "ash-maple" {
		t.Fatalf("retry after target appears: %q %v", got, ok)
	}
}

func TestCheck_MalformedRuleDisables(t *testing.T) {
	rules := map[string]Rule{
		"twice":   {From: "a-*-*", To: "b", Hours: 1},
		"orphan":  {From: "wood", To: "ash-*", Hours: 1},
		"noHours": {From: "a", To: "b"},
	}
	s := NewScheduler(rules, blockSet{"b": true}, 1, quiet())
	for name := range rules {
		timer := &Timer{Rule: name}
		if _, ok := s.Check(10, timer, "a"); ok || timer.Status != Disabled {
			t.Fatalf("%s: status %s", name, timer.Status)
		}
	}
	unknown := &Timer{Rule: "nope"}
	s.Check(10, unknown, "a")
	if unknown.Status != Disabled {
		t.Fatalf("unknown rule not disabled")
	}

	// A block outside the source pattern is a configuration error too.
	burn := NewScheduler(map[string]Rule{"burn": {From: "wood-*", To: "ash-*", Hours: 1}}, blockSet{"ash-oak": true}, 1, quiet())
	timer := &Timer{Rule: "burn"}
	burn.Check(10, timer, "stone")
	if timer.Status != Disabled {
		t.Fatalf("mismatched source not disabled")
	}
	if _, fired := burn.Check(20, timer, "wood-oak"); fired {
		t.Fatalf("disabled timer fired")
	}
}

func TestCheck_ChanceSkipsSomeChecks(t *testing.T) {
	rules := map[string]Rule{"rot": {From: "pile-*-fresh", To: "pile-*-rotten", Hours: 1, Chance: 0.25}}
	s := NewScheduler(rules, blockSet{"pile-apple-rotten": true}, 7, quiet())
	rule, _ := s.Rule("rot")
	fired := 0
	for i := 0; i < 400; i++ {
		timer := Start(rule, 0)
		if _, ok := s.Check(2, timer, "pile-apple-fresh"); ok {
			fired++
		}
	}
	if fired == 0 || fired == 400 {
		t.Fatalf("chance had no effect: %d/400 fired", fired)
	}

	// Before the threshold no roll is spent and nothing fires.
	timer := Start(rule, 0)
	if _, ok := s.Check(0.5, timer, "pile-apple-fresh"); ok {
		t.Fatalf("fired before threshold")
	}
}

func TestTimer_ExtendAndPersist(t *testing.T) {
	rule := Rule{Name: "burn", Hours: 4}
	timer := Start(rule, 10)
	if err := timer.Extend(0); err == nil {
		t.Fatalf("extend by zero accepted")
	}
	if err := timer.Extend(-2); err == nil {
		t.Fatalf("negative extend accepted")
	}
	_ = timer.Extend(2)
	if timer.Threshold != 16 {
		t.Fatalf("threshold: %v", timer.Threshold)
	}

	b, err := attr.EncodeNBT(attr.New().SetTree("transition", timer.Encode()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tree, err := attr.DecodeNBT(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sub, _ := tree.Tree("transition")
	loaded := Load(sub, rule, 50)
	if loaded.Threshold != 16 || loaded.Rule != "burn" || loaded.Status != Pending {
		t.Fatalf("loaded: %+v", loaded)
	}

	reset := Load(sub, Rule{Name: "burn", Hours: 4, ResetOnLoad: true}, 50)
	if reset.Threshold != 54 {
		t.Fatalf("reset on load: %v", reset.Threshold)
	}
	fresh := Load(nil, rule, 3)
	if fresh.Threshold != 7 || fresh.Status != Pending {
		t.Fatalf("fresh: %+v", fresh)
	}
}
