package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock accepts "HH:MM" and "HH:MM:SS". Seconds are ignored.
func ParseClock(raw string) (Clock, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	if hours == 24 && minutes != 0 {
		return 0, fmt.Errorf("invalid time of day %q", raw)
	}
	return Clock(hours*60 + minutes), nil
}

// MustClock parses raw and panics on error. Intended for literal tables.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Add returns the clock shifted by minutes.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// Window is a half-open time-of-day range [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(raw string) (Window, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q", raw)
	}
	start, err := ParseClock(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(parts[1])
	if err != nil {
		return Window{}, err
	}
	if end <= start {
		return Window{}, fmt.Errorf("window %q ends before it starts", raw)
	}
	return Window{Start: start, End: end}, nil
}

// ParseWindows parses every entry and stops at the first malformed one.
func ParseWindows(raw []string) ([]Window, error) {
	windows := make([]Window, 0, len(raw))
	for _, entry := range raw {
		w, err := ParseWindow(entry)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// Contains reports whether c falls inside the window.
func (w Window) Contains(c Clock) bool {
	return c >= w.Start && c < w.End
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end Clock) bool {
	return start < w.End && w.Start < end
}

// Minutes is the window length.
func (w Window) Minutes() int {
	return int(w.End - w.Start)
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// overlapMinutes returns the length of the intersection of two ranges.
func overlapMinutes(aStart, aEnd, bStart, bEnd Clock) int {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return int(end - start)
}

// MarshalText renders the clock as HH:MM in JSON and YAML.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses HH:MM.
func (c *Clock) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
