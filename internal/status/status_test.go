package status

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPercentageBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want Status
	}{
		{150, Optimal},
		{100, Optimal},
		{99, Operational},
		{80, Operational},
		{79, Degraded},
		{60, Degraded},
		{59, Compromised},
		{40, Compromised},
		{39, Critical},
		{20, Critical},
		{19, Destroyed},
		{0, Destroyed},
		{-5, Destroyed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FromPercentage(tc.pct), "pct=%v", tc.pct)
	}
}

func TestValueForMidpoints(t *testing.T) {
	assert.InDelta(t, 100, ValueFor(Optimal, 100), 1e-9)
	assert.InDelta(t, 89.5, ValueFor(Operational, 100), 1e-9)
	assert.InDelta(t, 69.5, ValueFor(Degraded, 100), 1e-9)
	assert.InDelta(t, 49.5, ValueFor(Compromised, 100), 1e-9)
	assert.InDelta(t, 29.5, ValueFor(Critical, 100), 1e-9)
	assert.InDelta(t, 9.5, ValueFor(Destroyed, 100), 1e-9)
	assert.Equal(t, 0.0, ValueFor(Offline, 100))
	assert.InDelta(t, 139, ValueFor(Degraded, 200), 1e-9)
}

func TestMidpointRoundTrip(t *testing.T) {
	for _, s := range Ladder {
		assert.Equal(t, s, FromPercentage(100*ValueFor(s, 100)/100), "status %s", s)
	}
}

func TestRoundTripAnyMax(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FromValue(ValueFor(s, max), max) == s", prop.ForAll(
		func(idx int, maxValue float64) bool {
			s := Ladder[idx]
			return FromValue(ValueFor(s, maxValue), maxValue) == s
		},
		gen.IntRange(0, len(Ladder)-1),
		gen.Float64Range(0.5, 1e6),
	))

	properties.Property("FromPercentage is monotone", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return Rank(FromPercentage(a)) <= Rank(FromPercentage(b))
		},
		gen.Float64Range(-10, 120),
		gen.Float64Range(-10, 120),
	))

	properties.TestingRun(t)
}

func TestOfflineIsWorst(t *testing.T) {
	assert.True(t, Worse(Offline, Destroyed))
	assert.True(t, Worse(Destroyed, Critical))
	assert.False(t, Worse(Degraded, Degraded))
	assert.True(t, Worse(Offline, Optimal))
	assert.False(t, Worse(Operational, Critical))
}

func TestParse(t *testing.T) {
	s, err := Parse("degraded")
	require.NoError(t, err)
	assert.Equal(t, Degraded, s)

	_, err = Parse("super_duper")
	require.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
	st, err := Parse("offline")
	require.NoError(t, err)
	assert.Equal(t, Offline, st)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "critical", Severity(Destroyed))
	assert.Equal(t, "critical", Severity(Critical))
	assert.Equal(t, "warning", Severity(Degraded))
	assert.Equal(t, "warning", Severity(Offline))
}
