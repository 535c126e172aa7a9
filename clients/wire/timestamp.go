package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp accepts the handful of time formats the bot service emits:
// RFC3339 (with or without zone), "2006-01-02 15:04:05", bare "15:04:05"
// clock strings, and unix seconds or milliseconds as numbers or strings.
// An absent, null or empty value decodes to the zero time.
type Timestamp struct {
	time.Time
}

// Zoneless layouts are read in local time, the same zone clock strings use.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// clockNow is swapped in tests that decode bare clock strings.
var clockNow = time.Now

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		parsed, err := parseUnix(string(b))
		if err != nil {
			return fmt.Errorf("%w: timestamp %s", ErrMalformed, b)
		}
		t.Time = parsed
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp parses a single timestamp string. Empty input yields the
// zero time and no error.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}

	if ts, err := time.ParseInLocation("15:04:05", s, time.Local); err == nil {
		return anchorClock(ts, clockNow()), nil
	}

	if ts, err := parseUnix(s); err == nil {
		return ts, nil
	}

	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformed, s)
}

// anchorClock places a clock-only time on the day that puts it closest to
// now, so a frame stamped just before midnight and decoded just after it
// stays on the previous day.
func anchorClock(clk, now time.Time) time.Time {
	now = now.In(time.Local)
	ts := time.Date(now.Year(), now.Month(), now.Day(), clk.Hour(), clk.Minute(), clk.Second(), 0, time.Local)
	switch d := ts.Sub(now); {
	case d > 12*time.Hour:
		ts = ts.AddDate(0, 0, -1)
	case d < -12*time.Hour:
		ts = ts.AddDate(0, 0, 1)
	}
	return ts
}

func parseUnix(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	if f <= 0 {
		return time.Time{}, nil
	}
	// Anything past year 33658 in seconds is really milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)), nil
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), nil
}
