package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string such as "5s" or
// "250ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
