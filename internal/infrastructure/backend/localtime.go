package backend

import (
	"bytes"
	"fmt"
	"time"
)

// The backend serialises zone-less local date-times; the gateway reads them as UTC.
const localLayout = "2006-01-02T15:04:05"

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

type localTime struct {
	time.Time
}

func (t *localTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised date-time %q", s)
}

func (t localTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(localLayout) + `"`), nil
}

func newLocalTime(t *time.Time) *localTime {
	if t == nil {
		return nil
	}
	return &localTime{Time: *t}
}

func (t *localTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
