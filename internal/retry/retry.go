// Package retry maps reconnect attempt numbers to delays.
//
// Policies are pure: NextDelay(n) depends only on n. Attempt 0 is the first reconnect try
// after a Connected period ends. The Connection consults its policy only while
// Reconnecting.
package retry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy decides how long to wait before reconnect attempt n, or whether to stop.
type Policy interface {
	NextDelay(attempt int) (time.Duration, bool)
}

// ExponentialCap is the ceiling reached by Exponential after its fixed schedule.
const ExponentialCap = 60 * time.Second

var exponentialSchedule = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

type exponential struct{}

// Exponential retries forever: immediately, then after 2s, 10s, 30s, then every 60s.
func Exponential() Policy { return exponential{} }

func (exponential) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(exponentialSchedule) {
		return exponentialSchedule[attempt], true
	}
	return ExponentialCap, true
}

func (exponential) String() string { return "exponential" }

type fixed struct {
	interval    time.Duration
	maxAttempts int
}

// Fixed waits interval before each attempt and stops after maxAttempts attempts.
func Fixed(interval time.Duration, maxAttempts int) Policy {
	return fixed{interval: interval, maxAttempts: maxAttempts}
}

func (f fixed) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= f.maxAttempts {
		return 0, false
	}
	return f.interval, true
}

func (f fixed) String() string { return fmt.Sprintf("fixed:%s:%d", f.interval, f.maxAttempts) }

type none struct{}

// None never reconnects.
func None() Policy { return none{} }

func (none) NextDelay(int) (time.Duration, bool) { return 0, false }

func (none) String() string { return "none" }

type custom struct {
	delays     []time.Duration
	repeatLast bool
}

// Custom walks an explicit delay list. With repeatLast the final delay repeats forever;
// otherwise the policy stops once the list is exhausted.
func Custom(delays []time.Duration, repeatLast bool) Policy {
	cp := make([]time.Duration, len(delays))
	copy(cp, delays)
	return custom{delays: cp, repeatLast: repeatLast}
}

func (c custom) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(c.delays) {
		return c.delays[attempt], true
	}
	if c.repeatLast && len(c.delays) > 0 {
		return c.delays[len(c.delays)-1], true
	}
	return 0, false
}

func (c custom) String() string {
	parts := make([]string, len(c.delays))
	for i, d := range c.delays {
		parts[i] = d.String()
	}
	s := "custom:" + strings.Join(parts, ",")
	if c.repeatLast {
		s += ":repeat"
	}
	return s
}

// Parse builds a policy from its configuration string:
//
//	exponential
//	none
//	fixed:<interval>:<maxAttempts>    e.g. fixed:5s:10
//	custom:<d1>,<d2>,...[:repeat]     e.g. custom:0s,1s,5s:repeat
func Parse(spec string) (Policy, error) {
	spec = strings.TrimSpace(spec)
	kind, rest, _ := strings.Cut(spec, ":")
	switch strings.ToLower(kind) {
	case "", "exponential":
		if rest != "" {
			return nil, fmt.Errorf("exponential policy takes no arguments: %q", spec)
		}
		return Exponential(), nil
	case "none":
		if rest != "" {
			return nil, fmt.Errorf("none policy takes no arguments: %q", spec)
		}
		return None(), nil
	case "fixed":
		intervalStr, countStr, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("fixed policy needs interval and count: %q", spec)
		}
		interval, err := time.ParseDuration(intervalStr)
		if err != nil || interval < 0 {
			return nil, fmt.Errorf("fixed policy interval %q: invalid", intervalStr)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("fixed policy count %q: invalid", countStr)
		}
		return Fixed(interval, count), nil
	case "custom":
		list, flag, hasFlag := strings.Cut(rest, ":")
		if hasFlag && flag != "repeat" {
			return nil, fmt.Errorf("custom policy flag %q: want repeat", flag)
		}
		if list == "" {
			return nil, fmt.Errorf("custom policy needs at least one delay: %q", spec)
		}
		var delays []time.Duration
		for _, part := range strings.Split(list, ",") {
			d, err := time.ParseDuration(strings.TrimSpace(part))
			if err != nil || d < 0 {
				return nil, fmt.Errorf("custom policy delay %q: invalid", part)
			}
			delays = append(delays, d)
		}
		return Custom(delays, hasFlag), nil
	}
	return nil, fmt.Errorf("unknown reconnect policy %q", kind)
}

// Wait sleeps for d or until ctx is done, returning ctx.Err() in the latter case.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
