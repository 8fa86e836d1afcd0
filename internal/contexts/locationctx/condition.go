package locationctx

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pmp/internal/domain"
)

// maxUncertainty caps the uncertainty at the earth's circumference.
const maxUncertainty = 2 * math.Pi * 6371000.0

const (
	pointSeparator = "--"
	coordSeparator = "~"
)

var conditionPattern = regexp.MustCompile(
	`^([0-9.]+);([0-9.]+);(1|0);((-?[0-9.]+~-?[0-9.]+--)+)$`)

// Fix is one sampled position.
type Fix struct {
	Point
	// Accuracy is the radius of the 68% confidence circle, in meters.
	// Negative means unknown.
	Accuracy float64
	Time     time.Time
}

// Condition selects the area inside (or, negated, outside) a polygon,
// widened by an uncertainty margin. It remembers its previous result so that
// the margin can grow or shrink by the hysteresis.
//
// The band within the margin of an edge is satisfied whether or not the
// condition is negated; Negate only flips the areas away from the boundary.
type Condition struct {
	Uncertainty float64
	Hysteresis  float64
	Negate      bool
	Polygon     []Point

	lastCheck bool
}

// NewCondition validates and builds a condition. Uncertainty and hysteresis
// are in meters.
func NewCondition(uncertainty, hysteresis float64, negate bool, polygon []Point) (*Condition, error) {
	if hysteresis < 0 || uncertainty < 0 {
		return nil, invalid("hysteresis and uncertainty must not be negative")
	}
	if hysteresis >= uncertainty {
		return nil, invalid("hysteresis must be smaller than uncertainty")
	}
	if len(polygon) == 0 {
		return nil, invalid("polygon must not be empty")
	}
	return &Condition{
		Uncertainty: math.Min(uncertainty, maxUncertainty),
		Hysteresis:  hysteresis,
		Negate:      negate,
		Polygon:     append([]Point(nil), polygon...),
	}, nil
}

// ParseCondition reads "<uncertainty>;<hysteresis>;<1|0>;(<lat>~<lon>--)+".
func ParseCondition(s string) (*Condition, error) {
	m := conditionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, invalid(fmt.Sprintf("location condition was not formatted properly: %q", s))
	}
	unc, err1 := strconv.ParseFloat(m[1], 64)
	hyst, err2 := strconv.ParseFloat(m[2], 64)
	if err := errors.Join(err1, err2); err != nil {
		return nil, invalid(err.Error())
	}

	var poly []Point
	for _, pair := range strings.Split(strings.TrimSuffix(m[4], pointSeparator), pointSeparator) {
		lat, lon, _ := strings.Cut(pair, coordSeparator)
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lon, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, invalid(err.Error())
		}
		p, err := NewPoint(la, lo)
		if err != nil {
			return nil, invalid(err.Error())
		}
		poly = append(poly, p)
	}
	return NewCondition(unc, hyst, m[3] == "1", poly)
}

func invalid(detail string) error {
	return domain.NewSubSystemError("context", "LocationCondition.Parse", domain.ErrInvalidCondition, detail)
}

func (c *Condition) String() string {
	var sb strings.Builder
	neg := "0"
	if c.Negate {
		neg = "1"
	}
	fmt.Fprintf(&sb, "%f;%f;%s;", c.Uncertainty, c.Hysteresis, neg)
	for _, p := range c.Polygon {
		sb.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
		sb.WriteString(coordSeparator)
		sb.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		sb.WriteString(pointSeparator)
	}
	return sb.String()
}

// HumanReadable lists the polygon and margins.
func (c *Condition) HumanReadable() string {
	var sb strings.Builder
	for _, p := range c.Polygon {
		sb.WriteString(p.String())
		sb.WriteString("; ")
	}
	fmt.Fprintf(&sb, "Uncertainty %gm, Hysteresis %gm", c.Uncertainty, c.Hysteresis)
	if c.Negate {
		sb.WriteString(", outside")
	}
	return sb.String()
}

// SatisfiedIn evaluates the condition at f and records the result for the
// next evaluation's hysteresis.
func (c *Condition) SatisfiedIn(f Fix) bool {
	margin := c.Uncertainty - c.Hysteresis
	if c.lastCheck {
		margin = c.Uncertainty + c.Hysteresis
	}
	accuracy := math.Max(f.Accuracy, 0)

	result := c.nearBoundary(f.Point, accuracy+margin) || c.inside(f.Point) != c.Negate
	c.lastCheck = result
	return result
}

// nearBoundary reports whether the latitude/longitude-corrected ellipse
// around p with the given half axes in meters touches any polygon edge.
func (c *Condition) nearBoundary(p Point, meters float64) bool {
	if meters <= 0 {
		return false
	}
	lonAxis := p.EastDistance(meters)
	latAxis := p.NorthDistance(meters)

	n := len(c.Polygon)
	for i := range n {
		from, to := c.Polygon[i], c.Polygon[(i+1)%n]
		// Edge o + t*d, t in [0,1], in the ellipse's unit-circle frame.
		ox, oy := (from.Lon-p.Lon)/lonAxis, (from.Lat-p.Lat)/latAxis
		dx, dy := (to.Lon-from.Lon)/lonAxis, (to.Lat-from.Lat)/latAxis

		a := dx*dx + dy*dy
		b := 2 * (ox*dx + oy*dy)
		cc := ox*ox + oy*oy - 1
		if cc <= 0 {
			return true
		}
		if a == 0 {
			continue
		}
		for _, t := range solveQuadratic(a, b, cc) {
			if t >= 0 && t <= 1 {
				return true
			}
		}
	}
	return false
}

// inside is the even-odd crossing test on the closed polygon.
func (c *Condition) inside(p Point) bool {
	in := false
	n := len(c.Polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := c.Polygon[i], c.Polygon[j]
		if (pi.Lat > p.Lat) == (pj.Lat > p.Lat) {
			continue
		}
		x := (pj.Lon-pi.Lon)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
		if p.Lon < x {
			in = !in
		}
	}
	return in
}

// solveQuadratic returns the real roots of ax^2+bx+c in ascending order,
// avoiding cancellation when b is large.
func solveQuadratic(a, b, c float64) []float64 {
	det := b*b - 4*a*c
	if det < 0 {
		return nil
	}
	det = math.Sqrt(det)
	q := -0.5 * (b + math.Copysign(det, b))
	if q == 0 {
		return []float64{0}
	}
	x1, x2 := q/a, c/q
	switch {
	case x1 < x2:
		return []float64{x1, x2}
	case x2 < x1:
		return []float64{x2, x1}
	default:
		return []float64{x1}
	}
}
