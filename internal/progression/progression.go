// Package progression implements the XP and level rules.
//
// A user carries a level (starting at 1) and an XP counter. Each level has a
// threshold: the XP needed to leave it. Granting XP adds to the counter and
// converts every full threshold into a level-up, so after any grant settles
// the counter is always below the threshold of the current level.
//
// Everything here is pure arithmetic. Callers load the user's state, apply the
// rule and persist the result.
package progression

import (
	"fmt"
	"math"
	"strings"
)

// maxThreshold caps curve output so geometric growth can't overflow int.
const maxThreshold = 1 << 40

// Curve maps a level to the XP needed to advance from it.
// Implementations must return a value >= 1 for every level >= 1.
type Curve interface {
	Threshold(level int) int
}

// Linear is the canonical curve: Base + level*Step.
// With the defaults (100, 20) level 1 needs 120 XP, level 5 needs 200.
type Linear struct {
	Base int
	Step int
}

func (c Linear) Threshold(level int) int {
	if level < 1 {
		level = 1
	}
	t := c.Base + level*c.Step
	if t < 1 {
		return 1
	}
	if t > maxThreshold {
		return maxThreshold
	}
	return t
}

// Geometric multiplies the previous threshold by Factor on every level:
// floor(Initial * Factor^(level-1)).
type Geometric struct {
	Initial int
	Factor  float64
}

func (c Geometric) Threshold(level int) int {
	if level < 1 {
		level = 1
	}
	t := float64(c.Initial) * math.Pow(c.Factor, float64(level-1))
	if math.IsNaN(t) || t < 1 {
		return 1
	}
	if t > maxThreshold {
		return maxThreshold
	}
	return int(t)
}

// DefaultCurve is Linear{100, 20}.
func DefaultCurve() Curve {
	return Linear{Base: 100, Step: 20}
}

// State is a user's position on the curve.
type State struct {
	Level int
	XP    int
}

// Result is the state after a grant or revocation.
// LevelsGained is negative when a revocation drops levels.
type Result struct {
	Level        int
	XP           int
	Threshold    int
	LevelsGained int
}

// State returns the level/XP pair of the result.
func (r Result) State() State {
	return State{Level: r.Level, XP: r.XP}
}

// Normalize clamps a state to the valid domain (level >= 1, xp >= 0) and
// settles any overflow, so the returned XP is below the level's threshold.
func Normalize(curve Curve, s State) Result {
	return Apply(curve, s, 0)
}

// Apply grants delta XP and rolls any overflow into level-ups.
// Negative deltas are treated as zero.
func Apply(curve Curve, s State, delta int) Result {
	s = clamp(s)
	if delta > 0 {
		s.XP += delta
	}

	start := s.Level
	threshold := curve.Threshold(s.Level)
	for s.XP >= threshold {
		s.XP -= threshold
		s.Level++
		threshold = curve.Threshold(s.Level)
	}

	return Result{
		Level:        s.Level,
		XP:           s.XP,
		Threshold:    threshold,
		LevelsGained: s.Level - start,
	}
}

// Revoke takes delta XP back, walking levels down when the counter goes
// negative. It never drops below level 1 and floors XP at zero there.
func Revoke(curve Curve, s State, delta int) Result {
	s = clamp(s)
	start := s.Level
	if delta > 0 {
		s.XP -= delta
	}
	for s.XP < 0 && s.Level > 1 {
		s.Level--
		s.XP += curve.Threshold(s.Level)
	}
	if s.XP < 0 {
		s.XP = 0
	}

	// A revocation can't push XP up past the threshold, but a caller passing
	// an unsettled state could; settle it the same way Apply would.
	r := Apply(curve, s, 0)
	r.LevelsGained = r.Level - start
	return r
}

func clamp(s State) State {
	if s.Level < 1 {
		s.Level = 1
	}
	if s.XP < 0 {
		s.XP = 0
	}
	return s
}

// ReopenPolicy decides what happens to completion XP when a done task is
// reopened.
type ReopenPolicy string

const (
	// ReopenKeep leaves the XP credited. Completing the task again does not
	// grant it a second time.
	ReopenKeep ReopenPolicy = "keep"
	// ReopenClawback revokes the completion XP. Completing the task again
	// grants it again.
	ReopenClawback ReopenPolicy = "clawback"
)

// ParseReopenPolicy accepts "keep" or "clawback" (case-insensitive).
func ParseReopenPolicy(s string) (ReopenPolicy, error) {
	switch p := ReopenPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ReopenKeep, ReopenClawback:
		return p, nil
	case "":
		return ReopenKeep, nil
	default:
		return "", fmt.Errorf("progression: unknown reopen policy %q", s)
	}
}

// Policy bundles the tunable parts of the rules.
type Policy struct {
	Curve Curve
	// AwardOnCreate grants a task's xpReward when the task is created.
	AwardOnCreate bool
	Reopen        ReopenPolicy
}

// DefaultPolicy is the linear curve, XP on creation, and no clawback.
func DefaultPolicy() Policy {
	return Policy{
		Curve:         DefaultCurve(),
		AwardOnCreate: true,
		Reopen:        ReopenKeep,
	}
}

// NewCurve builds a curve by name. "linear" uses base and step,
// "geometric" uses base as the initial threshold and factor as the multiplier.
func NewCurve(name string, base, step int, factor float64) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear":
		if base+step < 1 || step < 0 {
			return nil, fmt.Errorf("progression: linear curve needs base+step >= 1 and step >= 0 (got %d, %d)", base, step)
		}
		return Linear{Base: base, Step: step}, nil
	case "geometric":
		if base < 1 || factor < 1 {
			return nil, fmt.Errorf("progression: geometric curve needs initial >= 1 and factor >= 1 (got %d, %v)", base, factor)
		}
		return Geometric{Initial: base, Factor: factor}, nil
	default:
		return nil, fmt.Errorf("progression: unknown curve %q", name)
	}
}
