package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Time-of-day parse failures. Callers map these to user-facing messages.
var (
	ErrSyntax           = errors.New("time must be HH:MM")
	ErrHourOutOfRange   = errors.New("hour must be between 00 and 23")
	ErrMinuteOutOfRange = errors.New("minute must be between 00 and 59")
)

// TimeOfDay is a wall-clock time at minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour). A single-digit hour is
// accepted and normalized, so "7:30" and "07:30" produce the same value.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, ErrSyntax
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, ErrSyntax
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, ErrSyntax
	}

	if hour < 0 || hour > 23 {
		return TimeOfDay{}, ErrHourOutOfRange
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, ErrMinuteOutOfRange
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String renders the zero-padded canonical form, e.g. "07:30".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
