package transition

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Rule is one configured conversion.
type Rule struct {
	Name        string  `yaml:"-"`
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	Hours       float64 `yaml:"hours"`
	Chance      float64 `yaml:"chance"`
	ResetOnLoad bool    `yaml:"reset_on_load"`
}

type compiled struct {
	rule Rule
	from Pattern
	to   Pattern
	err  error
}

func compile(r Rule) compiled {
	c := compiled{rule: r}
	var err error
	if c.from, err = ParsePattern(r.From); err != nil {
		c.err = fmt.Errorf("from: %w", err)
		return c
	}
	if c.to, err = ParsePattern(r.To); err != nil {
		c.err = fmt.Errorf("to: %w", err)
		return c
	}
	switch {
	case c.to.HasWildcard() && !c.from.HasWildcard():
		c.err = fmt.Errorf("%w: target %q has a wildcard the source lacks", ErrMalformedPattern, r.To)
	case r.Hours <= 0:
		c.err = fmt.Errorf("transition: rule %s: hours must be positive", r.Name)
	case r.Chance < 0 || r.Chance > 1:
		c.err = fmt.Errorf("transition: rule %s: chance %v outside [0,1]", r.Name, r.Chance)
	}
	return c
}

// Blocks reports whether a block code exists; *registry.Registry implements it.
type Blocks interface {
	HasBlock(code string) bool
}

// Scheduler evaluates timers against configured rules. It runs on the
// simulation goroutine only.
type Scheduler struct {
	rules  map[string]compiled
	blocks Blocks
	rng    *rand.Rand
	log    logrus.FieldLogger
}

func NewScheduler(rules map[string]Rule, blocks Blocks, seed int64, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		rules:  make(map[string]compiled, len(rules)),
		blocks: blocks,
		rng:    rand.New(rand.NewSource(seed)),
		log:    log.WithField("component", "transition"),
	}
	for name, r := range rules {
		r.Name = name
		s.rules[name] = compile(r)
	}
	return s
}

// Rule returns the configured rule by name.
func (s *Scheduler) Rule(name string) (Rule, bool) {
	c, ok := s.rules[name]
	return c.rule, ok
}

// Check evaluates t for the block currently coded current at calendar time
// now. It returns the replacement block code when the transition fires.
//
// A target the block registry does not know leaves the timer pending for the
// next check. A missing or malformed rule, or a block the source pattern
// does not match, disables the timer for good.
func (s *Scheduler) Check(now float64, t *Timer, current string) (string, bool) {
	if t == nil || t.Status != Pending {
		return "", false
	}
	c, ok := s.rules[t.Rule]
	if !ok {
		s.disable(t, current, fmt.Errorf("transition: unknown rule %q", t.Rule))
		return "", false
	}
	if c.err != nil {
		s.disable(t, current, c.err)
		return "", false
	}
	if now < t.Threshold {
		return "", false
	}
	if ch := c.rule.Chance; ch > 0 && ch < 1 && s.rng.Float64() >= ch {
		return "", false
	}
	wild, ok := c.from.Match(current)
	if !ok {
		s.disable(t, current, fmt.Errorf("%w: %q does not match %q", ErrMalformedPattern, current, c.from))
		return "", false
	}
	target := c.to.Expand(wild)
	if s.blocks != nil && !s.blocks.HasBlock(target) {
		s.log.WithFields(logrus.Fields{"rule": t.Rule, "target": target}).Debug("transition target missing, still pending")
		return "", false
	}
	t.Status = Fired
	return target, true
}

func (s *Scheduler) disable(t *Timer, current string, err error) {
	t.Status = Disabled
	s.log.WithFields(logrus.Fields{"rule": t.Rule, "block": current}).WithError(err).Warn("transition disabled")
}
