package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned when a period string cannot be parsed.
var ErrInvalidPeriod = errors.New("invalid period")

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var periodUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": day, "day": day, "days": day,
	"w": week, "wk": week, "week": week, "weeks": week,
}

var periodAliases = map[string]time.Duration{
	"hourly":  time.Hour,
	"daily":   day,
	"weekly":  week,
	"monthly": 30 * day,
}

// MaxPeriod is the longest period a task may have.
const MaxPeriod = 100 * 365 * day

// ParsePeriod parses how often a task runs. It accepts "<n> <unit>" forms
// such as "1 hour", "2 days" or "3600.0 seconds", Postgres interval
// output ("01:00:00", "1 day 02:00:00"), the aliases hourly/daily/weekly/
// monthly and Go durations like "1h30m". The result must be a positive
// whole number of seconds no longer than MaxPeriod.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPeriod)
	}
	if d, ok := periodAliases[s]; ok {
		return d, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return checkPeriod(d, s)
	}

	var sum periodSum
	fields := strings.Fields(s)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if strings.Contains(f, ":") {
			if err := sum.addClock(f); err != nil {
				return 0, err
			}
			continue
		}
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		if i+1 >= len(fields) {
			return 0, fmt.Errorf("%w: missing unit in %q", ErrInvalidPeriod, s)
		}
		i++
		unit, ok := periodUnits[fields[i]]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidPeriod, fields[i])
		}
		if err := sum.add(n, unit, s); err != nil {
			return 0, err
		}
	}
	return checkPeriod(time.Duration(math.Round(sum.nanos)), s)
}

// periodSum accumulates in float64 nanoseconds so that no term can wrap.
type periodSum struct {
	nanos float64
}

func (p *periodSum) add(n float64, unit time.Duration, s string) error {
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("%w: %q must be positive", ErrInvalidPeriod, s)
	}
	p.nanos += n * float64(unit)
	if p.nanos > float64(MaxPeriod) {
		return fmt.Errorf("%w: %q is longer than %s", ErrInvalidPeriod, s, FormatPeriod(MaxPeriod))
	}
	return nil
}

// addClock adds the hh:mm:ss part of a Postgres interval.
func (p *periodSum) addClock(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		if err := p.add(n, units[i], s); err != nil {
			return err
		}
	}
	return nil
}

func checkPeriod(d time.Duration, s string) (time.Duration, error) {
	switch {
	case d <= 0:
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidPeriod, s)
	case d > MaxPeriod:
		return 0, fmt.Errorf("%w: %q is longer than %s", ErrInvalidPeriod, s, FormatPeriod(MaxPeriod))
	case d%time.Second != 0:
		return 0, fmt.Errorf("%w: %q is not a whole number of seconds", ErrInvalidPeriod, s)
	}
	return d, nil
}

// FormatPeriod renders d in the largest whole unit, e.g. "2 days".
func FormatPeriod(d time.Duration) string {
	for _, u := range []struct {
		name string
		d    time.Duration
	}{{"week", week}, {"day", day}, {"hour", time.Hour}, {"minute", time.Minute}} {
		if d >= u.d && d%u.d == 0 {
			n := int64(d / u.d)
			if n == 1 {
				return "1 " + u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
