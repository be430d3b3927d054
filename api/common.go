// Package api provides the JSON views printed by the veilart commands and
// some common helpers.
package api

import (
	"encoding/json"
	"time"
)

// TimeFormat defines the format used for timestamps across all this API.
const TimeFormat = time.RFC3339

// Time is a wrapper around time.Time that overrides how it is marshaled into JSON
type Time struct {
	time.Time
}

// String returns a string representation of the timestamp
func (t Time) String() string {
	return t.Format(TimeFormat)
}

// MarshalJSON marshals the timestamp with RFC3339 format
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON unmarshals the timestamp with RFC3339 format
func (t *Time) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := time.Parse(TimeFormat, str)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
