package timectx

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"pmp/internal/domain"
)

// Interval is how a time window repeats.
type Interval byte

const (
	Daily   Interval = 'D'
	Weekly  Interval = 'W'
	Monthly Interval = 'M'
	Yearly  Interval = 'Y'
)

const daySeparator = ","

var conditionPattern = regexp.MustCompile(
	`^((utc)?)([0-2][0-9]):([0-5][0-9]):([0-5][0-9])-([0-2][0-9]):([0-5][0-9]):([0-5][0-9])-(.)([0-9,]*)$`)

// TimeOfDay is a wall-clock time with second precision.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) seconds() int { return t.Hour*3600 + t.Minute*60 + t.Second }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Condition is a repeating time window.
//
// Days depend on Interval: weekly days are 1 (Sunday) through 7 (Saturday),
// monthly days are days of the month, yearly days are exactly
// [month (0 = January), day of month]. Daily ignores Days.
type Condition struct {
	UTC      bool
	Begin    TimeOfDay
	End      TimeOfDay
	Interval Interval
	Days     []int
}

// Parse reads a condition of the form
// [utc]HH:MM:SS-HH:MM:SS-<interval><day>,<day>,...
func Parse(s string) (Condition, error) {
	m := conditionPattern.FindStringSubmatch(s)
	if m == nil {
		return Condition{}, invalid("time condition was not formatted properly: %q", s)
	}

	atoi := func(x string) int {
		n, _ := strconv.Atoi(x)
		return n
	}
	c := Condition{
		UTC:      m[1] != "",
		Begin:    TimeOfDay{atoi(m[3]), atoi(m[4]), atoi(m[5])},
		End:      TimeOfDay{atoi(m[6]), atoi(m[7]), atoi(m[8])},
		Interval: Interval(m[9][0]),
	}
	if c.Begin.Hour > 23 || c.End.Hour > 23 {
		return Condition{}, invalid("time condition has an hour beyond 23: %q", s)
	}
	switch c.Interval {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return Condition{}, invalid("time condition has unknown interval %q", string(m[9]))
	}

	days, err := parseDays(m[10])
	if err != nil {
		return Condition{}, invalid("time condition day list %q: %v", m[10], err)
	}
	c.Days = days
	return c, nil
}

// parseDays reads a comma-terminated day list. A list without any
// separator is empty.
func parseDays(list string) ([]int, error) {
	days := []int{}
	if !strings.Contains(list, daySeparator) {
		return days, nil
	}
	parts := strings.Split(list, daySeparator)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		days = append(days, n)
	}
	return days, nil
}

func invalid(format string, args ...any) error {
	return domain.NewSubSystemError("context", "TimeCondition.Parse", domain.ErrInvalidCondition, fmt.Sprintf(format, args...))
}

// String renders the condition in its parseable form.
func (c Condition) String() string {
	var sb strings.Builder
	if c.UTC {
		sb.WriteString("utc")
	}
	sb.WriteString(c.Begin.String())
	sb.WriteByte('-')
	sb.WriteString(c.End.String())
	sb.WriteByte('-')
	sb.WriteByte(byte(c.Interval))
	for _, d := range c.Days {
		sb.WriteString(strconv.Itoa(d))
		sb.WriteString(daySeparator)
	}
	return sb.String()
}

// Wraps reports whether the window crosses midnight.
func (c Condition) Wraps() bool {
	return c.Begin.seconds() > c.End.seconds()
}

// SatisfiedIn reports whether t falls inside the window. local is the zone
// used for non-UTC conditions.
func (c Condition) SatisfiedIn(t time.Time, local *time.Location) bool {
	if c.UTC {
		t = t.UTC()
	} else if local != nil {
		t = t.In(local)
	}

	switch c.Interval {
	case Weekly:
		if !slices.Contains(c.Days, int(t.Weekday())+1) {
			return false
		}
	case Monthly:
		if !slices.Contains(c.Days, t.Day()) {
			return false
		}
	case Yearly:
		if len(c.Days) != 2 || c.Days[0] != int(t.Month())-1 || c.Days[1] != t.Day() {
			return false
		}
	}

	now := t.Hour()*3600 + t.Minute()*60 + t.Second()
	begin, end := c.Begin.seconds(), c.End.seconds()
	if c.Wraps() {
		// Satisfied outside [end, begin).
		return now >= begin || now <= end
	}
	return begin <= now && now <= end
}

// WholeDay reports whether the window covers (almost) the entire day.
func (c Condition) WholeDay() bool {
	diff := c.End.seconds() - c.Begin.seconds()
	if diff < 0 {
		diff += 24 * 3600
	}
	return diff >= 24*3600-1
}

// HumanReadable describes the condition for display.
func (c Condition) HumanReadable() string {
	var sb strings.Builder
	sb.WriteString(c.Begin.String())
	sb.WriteString(" - ")
	sb.WriteString(c.End.String())
	sb.WriteString(" ")
	if c.UTC {
		sb.WriteString("(UTC) ")
	}
	days := make([]string, len(c.Days))
	for i, d := range c.Days {
		days[i] = strconv.Itoa(d)
	}
	list := strings.Join(days, ", ")
	switch c.Interval {
	case Daily:
		sb.WriteString("repeating daily")
	case Weekly:
		sb.WriteString("repeating weekly on days of week ")
		sb.WriteString(list)
	case Monthly:
		sb.WriteString("repeating monthly on days of month ")
		sb.WriteString(list)
	case Yearly:
		if len(c.Days) == 2 {
			fmt.Fprintf(&sb, "repeating yearly on %d.%d.", c.Days[1], c.Days[0])
		} else {
			sb.WriteString("repeating yearly")
		}
	}
	return sb.String()
}
