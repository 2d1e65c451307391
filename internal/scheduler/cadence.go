package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cadence kinds.
const (
	KindCron  = "cron"  // 5-field cron expression
	KindEvery = "every" // @every <duration>
	KindAt    = "at"    // @at <rfc3339>, fires once
)

// Cadence is a parsed wake schedule. Three spellings are accepted:
//
//	"*/15 * * * *"              standard 5-field cron
//	"@every 30m"                fixed interval
//	"@at 2026-09-01T09:00:00Z"  one-shot absolute time
type Cadence struct {
	Spec string
	Kind string

	cron  *cronSchedule
	every time.Duration
	at    time.Time
}

// ParseCadence parses a cadence spec.
func ParseCadence(spec string) (*Cadence, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, fmt.Errorf("empty cadence")

	case strings.HasPrefix(spec, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("cadence %q: %w", spec, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("cadence %q: interval below 1s", spec)
		}
		return &Cadence{Spec: spec, Kind: KindEvery, every: d}, nil

	case strings.HasPrefix(spec, "@at "):
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(spec, "@at ")))
		if err != nil {
			return nil, fmt.Errorf("cadence %q: %w", spec, err)
		}
		return &Cadence{Spec: spec, Kind: KindAt, at: at}, nil

	case strings.HasPrefix(spec, "@"):
		return nil, fmt.Errorf("cadence %q: unknown directive", spec)

	default:
		cron, err := parseCron(spec)
		if err != nil {
			return nil, err
		}
		return &Cadence{Spec: spec, Kind: KindCron, cron: cron}, nil
	}
}

// OneShot reports whether the cadence fires at most once.
func (c *Cadence) OneShot() bool { return c.Kind == KindAt }

// Next returns the first fire strictly after the given time. ok is false when
// the cadence is exhausted (a one-shot whose moment has passed).
func (c *Cadence) Next(after time.Time) (time.Time, bool) {
	switch c.Kind {
	case KindEvery:
		return after.Add(c.every), true
	case KindAt:
		if c.at.After(after) {
			return c.at, true
		}
		return time.Time{}, false
	default:
		next := c.cron.next(after)
		return next, !next.IsZero()
	}
}

// cronSchedule holds one bitmask per cron field; bit N set means value N
// matches.
type cronSchedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

func parseCron(expr string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}

	var c cronSchedule
	var err error
	for i, spec := range []struct {
		name     string
		min, max int
		dst      *uint64
	}{
		{"minute", 0, 59, &c.minute},
		{"hour", 0, 23, &c.hour},
		{"day-of-month", 1, 31, &c.dom},
		{"month", 1, 12, &c.month},
		{"day-of-week", 0, 6, &c.dow},
	} {
		*spec.dst, err = parseCronField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("cron %s: %w", spec.name, err)
		}
	}
	return &c, nil
}

// parseCronField handles *, */N, N, N-M, N-M/S, and comma lists of those.
func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1
		body, stepStr, hasStep := strings.Cut(part, "/")

		if body != "*" {
			loStr, hiStr, isRange := strings.Cut(body, "-")
			v, err := strconv.Atoi(loStr)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			lo = v
			if isRange {
				if hi, err = strconv.Atoi(hiStr); err != nil {
					return 0, fmt.Errorf("bad range %q", part)
				}
			} else {
				hi = v
			}
		}
		if hasStep {
			v, err := strconv.Atoi(stepStr)
			if err != nil || v <= 0 {
				return 0, fmt.Errorf("bad step %q", part)
			}
			step = v
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q out of bounds [%d,%d]", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func (c *cronSchedule) matches(t time.Time) bool {
	return c.minute&(1<<uint(t.Minute())) != 0 &&
		c.hour&(1<<uint(t.Hour())) != 0 &&
		c.dom&(1<<uint(t.Day())) != 0 &&
		c.month&(1<<uint(t.Month())) != 0 &&
		c.dow&(1<<uint(t.Weekday())) != 0
}

// next searches forward minute by minute, jumping over whole non-matching
// months, days, and hours. Gives up two years out and returns the zero time.
func (c *cronSchedule) next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(2, 0, 0)

	for t.Before(limit) {
		if c.month&(1<<uint(t.Month())) == 0 {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if c.dom&(1<<uint(t.Day())) == 0 || c.dow&(1<<uint(t.Weekday())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if c.hour&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if c.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
