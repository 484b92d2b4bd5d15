package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidSchedule is returned for schedules that are neither a delay nor a
// cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule")

var delayPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// IsDelay reports whether s has the one-shot delay form ("30m", "2h", "1d").
func IsDelay(s string) bool {
	return delayPattern.MatchString(s)
}

// ParseDelay parses "<n>m", "<n>h" or "<n>d" into a duration.
func ParseDelay(s string) (time.Duration, error) {
	m := delayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: delay %q must look like 30m, 2h or 1d", ErrInvalidSchedule, s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: delay %q: %v", ErrInvalidSchedule, s, err)
	}

	var unit time.Duration
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > int64(1<<62)/int64(unit) {
		return 0, fmt.Errorf("%w: delay %q is too large", ErrInvalidSchedule, s)
	}
	return time.Duration(n) * unit, nil
}
