package progression

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearThreshold(t *testing.T) {
	c := Linear{Base: 100, Step: 20}

	tests := []struct {
		level int
		want  int
	}{
		{level: 1, want: 120},
		{level: 5, want: 200},
		{level: 6, want: 220},
		{level: 0, want: 120}, // clamped to level 1
		{level: -3, want: 120},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Threshold(tt.level), "level %d", tt.level)
	}
}

func TestGeometricThreshold(t *testing.T) {
	c := Geometric{Initial: 120, Factor: 1.5}

	assert.Equal(t, 120, c.Threshold(1))
	assert.Equal(t, 180, c.Threshold(2))
	assert.Equal(t, 270, c.Threshold(3))
	assert.Equal(t, maxThreshold, c.Threshold(10_000))
}

func TestApply(t *testing.T) {
	curve := DefaultCurve()

	tests := []struct {
		name  string
		state State
		delta int
		want  Result
	}{
		{
			name:  "no level up",
			state: State{Level: 1, XP: 0},
			delta: 10,
			want:  Result{Level: 1, XP: 10, Threshold: 120},
		},
		{
			name:  "exact threshold levels up to zero",
			state: State{Level: 1, XP: 100},
			delta: 20,
			want:  Result{Level: 2, XP: 0, Threshold: 140, LevelsGained: 1},
		},
		{
			// xp=75, xpToNextLevel=200, +130 → xp=5 at the next level
			name:  "overflow carries into next level",
			state: State{Level: 5, XP: 75},
			delta: 130,
			want:  Result{Level: 6, XP: 5, Threshold: 220, LevelsGained: 1},
		},
		{
			name:  "multiple level ups",
			state: State{Level: 1, XP: 0},
			delta: 120 + 140 + 160 + 7,
			want:  Result{Level: 4, XP: 7, Threshold: 180, LevelsGained: 3},
		},
		{
			name:  "negative delta ignored",
			state: State{Level: 3, XP: 50},
			delta: -40,
			want:  Result{Level: 3, XP: 50, Threshold: 160},
		},
		{
			name:  "invalid state clamped",
			state: State{Level: 0, XP: -5},
			delta: 0,
			want:  Result{Level: 1, XP: 0, Threshold: 120},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(curve, tt.state, tt.delta))
		})
	}
}

// For every valid input the result satisfies 0 <= xp < threshold and the
// level never goes down.
func TestApply_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	curves := []Curve{DefaultCurve(), Geometric{Initial: 120, Factor: 1.5}, Linear{Base: 5, Step: 1}}

	for _, curve := range curves {
		for i := 0; i < 2000; i++ {
			level := 1 + rng.Intn(60)
			s := State{Level: level, XP: rng.Intn(curve.Threshold(level))}
			delta := rng.Intn(50_000)

			got := Apply(curve, s, delta)

			require.GreaterOrEqual(t, got.XP, 0)
			require.Less(t, got.XP, got.Threshold)
			require.Equal(t, curve.Threshold(got.Level), got.Threshold)
			require.GreaterOrEqual(t, got.Level, s.Level)
			require.Equal(t, got.Level-s.Level, got.LevelsGained)
		}
	}
}

func TestRevoke(t *testing.T) {
	curve := DefaultCurve()

	t.Run("within level", func(t *testing.T) {
		got := Revoke(curve, State{Level: 3, XP: 50}, 30)
		assert.Equal(t, Result{Level: 3, XP: 20, Threshold: 160}, got)
	})

	t.Run("undoes a level up", func(t *testing.T) {
		granted := Apply(curve, State{Level: 5, XP: 75}, 130)
		got := Revoke(curve, granted.State(), 130)
		assert.Equal(t, Result{Level: 5, XP: 75, Threshold: 200, LevelsGained: -1}, got)
	})

	t.Run("floors at level one", func(t *testing.T) {
		got := Revoke(curve, State{Level: 1, XP: 10}, 500)
		assert.Equal(t, Result{Level: 1, XP: 0, Threshold: 120}, got)
	})
}

func TestRevoke_InvertsApply(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	curve := DefaultCurve()

	for i := 0; i < 1000; i++ {
		level := 1 + rng.Intn(30)
		s := State{Level: level, XP: rng.Intn(curve.Threshold(level))}
		delta := rng.Intn(5000)

		back := Revoke(curve, Apply(curve, s, delta).State(), delta)
		require.Equal(t, s, back.State(), "state %+v delta %d", s, delta)
	}
}

func TestNewCurve(t *testing.T) {
	c, err := NewCurve("linear", 100, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, Linear{Base: 100, Step: 20}, c)

	c, err = NewCurve("Geometric", 120, 0, 1.5)
	require.NoError(t, err)
	assert.Equal(t, Geometric{Initial: 120, Factor: 1.5}, c)

	_, err = NewCurve("geometric", 0, 0, 1.5)
	assert.Error(t, err)

	_, err = NewCurve("linear", 0, -1, 0)
	assert.Error(t, err)

	_, err = NewCurve("exponential", 1, 1, 1)
	assert.Error(t, err)
}

func TestParseReopenPolicy(t *testing.T) {
	p, err := ParseReopenPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReopenKeep, p)

	p, err = ParseReopenPolicy(" ClawBack ")
	require.NoError(t, err)
	assert.Equal(t, ReopenClawback, p)

	_, err = ParseReopenPolicy("refund")
	assert.Error(t, err)
}
