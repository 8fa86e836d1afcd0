package locationctx

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
)

// square spans 0..0.01 degrees on both axes, roughly 1.1 km a side.
var square = []Point{{0, 0}, {0, 0.01}, {0.01, 0.01}, {0.01, 0}}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("100;10;0;0~0--0~0.01--0.01~0.01--0.01~0--")
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Uncertainty)
	assert.Equal(t, 10.0, c.Hysteresis)
	assert.False(t, c.Negate)
	assert.Equal(t, square, c.Polygon)

	again, err := ParseCondition(c.String())
	require.NoError(t, err)
	assert.Equal(t, c.Polygon, again.Polygon)
	assert.Equal(t, c.Uncertainty, again.Uncertainty)
}

func TestParseConditionNegativeCoordinates(t *testing.T) {
	c, err := ParseCondition("50;0;1;-33.5~-70.6--")
	require.NoError(t, err)
	assert.True(t, c.Negate)
	assert.Equal(t, []Point{{-33.5, -70.6}}, c.Polygon)
}

func TestParseConditionRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"10;10;0;0~0--",          // hysteresis == uncertainty
		"10;20;0;0~0--",          // hysteresis > uncertainty
		"10;1;0;",                // empty polygon
		"-10;1;0;0~0--",          // negative uncertainty
		"10;1;2;0~0--",           // negate flag
		"10;1;0;0~0",             // missing terminator
		"10;1;0;91~0--",          // latitude range
		"10;1;0;0~181--",         // longitude range
		"1.2.3;1;0;0~0--",        // bad float
		"10;1;0;0~0--0.5~0.5--x", // trailing garbage
	} {
		_, err := ParseCondition(s)
		assert.ErrorIs(t, err, domain.ErrInvalidCondition, s)
	}
}

func TestNewConditionCapsUncertainty(t *testing.T) {
	c, err := NewCondition(1e12, 1, false, square)
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi*6371000.0, c.Uncertainty, 1e-6)

	_, err = NewCondition(10, -1, false, square)
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)
}

func TestSatisfiedInInsideAndOutside(t *testing.T) {
	c, err := NewCondition(10, 0, false, square)
	require.NoError(t, err)
	assert.True(t, c.SatisfiedIn(Fix{Point: Point{0.005, 0.005}}))
	assert.False(t, c.SatisfiedIn(Fix{Point: Point{0.05, 0.05}}))

	neg, err := NewCondition(10, 0, true, square)
	require.NoError(t, err)
	assert.False(t, neg.SatisfiedIn(Fix{Point: Point{0.005, 0.005}}))
	assert.True(t, neg.SatisfiedIn(Fix{Point: Point{0.05, 0.05}}))
}

func TestSatisfiedInClosingEdge(t *testing.T) {
	// The edge from the last vertex back to the first runs along lon 0.
	c, err := NewCondition(100, 0, false, square)
	require.NoError(t, err)
	p := Point{0.005, 0}
	west := Point{p.Lat, -p.EastDistance(50)}
	assert.True(t, c.SatisfiedIn(Fix{Point: west}), "within uncertainty of the closing edge")
}

func TestSatisfiedInAccuracyWidensMargin(t *testing.T) {
	c, err := NewCondition(10, 0, false, square)
	require.NoError(t, err)
	edge := Point{0.005, 0.01}
	p := Point{edge.Lat, edge.Lon + edge.EastDistance(200)}
	assert.False(t, c.SatisfiedIn(Fix{Point: p, Accuracy: 50}))
	assert.True(t, c.SatisfiedIn(Fix{Point: p, Accuracy: 250}))
}

func TestSatisfiedInHysteresis(t *testing.T) {
	c, err := NewCondition(100, 50, false, square)
	require.NoError(t, err)
	edge := Point{0.005, 0.01}
	east := func(m float64) Fix {
		return Fix{Point: Point{edge.Lat, edge.Lon + edge.EastDistance(m)}}
	}

	// Outside: the margin is 100-50 m.
	assert.False(t, c.SatisfiedIn(east(120)))
	assert.False(t, c.SatisfiedIn(east(80)), "inside the plain margin but not the shrunk one")
	assert.True(t, c.SatisfiedIn(east(40)))

	// Inside: the margin is 100+50 m.
	assert.True(t, c.SatisfiedIn(east(120)), "still inside the grown margin")
	assert.True(t, c.SatisfiedIn(east(140)))
	assert.False(t, c.SatisfiedIn(east(160)))
	assert.False(t, c.SatisfiedIn(east(80)))
}

func TestSatisfiedInNegatedBoundaryBand(t *testing.T) {
	c, err := NewCondition(100, 50, true, square)
	require.NoError(t, err)
	edge := Point{0.005, 0.01}
	east := func(m float64) Fix {
		return Fix{Point: Point{edge.Lat, edge.Lon + edge.EastDistance(m)}}
	}

	assert.False(t, c.SatisfiedIn(Fix{Point: Point{0.005, 0.005}}), "deep inside")
	assert.True(t, c.SatisfiedIn(east(40)), "the band counts as satisfied")
	assert.True(t, c.SatisfiedIn(east(-40)), "on either side of the edge")
	assert.True(t, c.SatisfiedIn(east(500)), "outside")

	// Satisfied last time: the band grows to 100+50 m.
	assert.True(t, c.SatisfiedIn(east(-120)))
	assert.False(t, c.SatisfiedIn(east(-160)))
	// Not satisfied last time: the band shrinks to 100-50 m.
	assert.False(t, c.SatisfiedIn(east(-80)))
}

func TestSolveQuadratic(t *testing.T) {
	assert.Equal(t, []float64{1, 2}, solveQuadratic(1, -3, 2))
	assert.Equal(t, []float64{1}, solveQuadratic(1, -2, 1))
	assert.Empty(t, solveQuadratic(1, 0, 1))
}

func TestGeo(t *testing.T) {
	p := Point{48.7758, 9.1829}
	north := p.Offset(1000, 0)
	assert.InDelta(t, 1000, p.Distance(north), 1)
	assert.InDelta(t, p.Lon, north.Lon, 1e-9)

	east := p.Offset(1000, math.Pi/2)
	assert.InDelta(t, 1000, p.Distance(east), 1)
	assert.InDelta(t, east.Lon-p.Lon, p.EastDistance(1000), 1e-9)

	smeared := p.Smear(rand.New(rand.NewSource(1)), 500)
	assert.LessOrEqual(t, p.Distance(smeared), 500.5)

	assert.Equal(t, "48.775800 N, 9.182900 E", p.String())
	assert.Equal(t, "1.000000 S, 2.000000 W", Point{-1, -2}.String())

	_, err := NewPoint(100, 0)
	assert.Error(t, err)
}
