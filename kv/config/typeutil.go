package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/pingcap/errors"
)

// Duration is a wrapper of time.Duration for TOML and JSON.
type Duration struct {
	time.Duration
}

// NewDuration creates a Duration from time.Duration.
func NewDuration(duration time.Duration) Duration {
	return Duration{Duration: duration}
}

// MarshalJSON returns the duration as a JSON string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, d.String())), nil
}

// UnmarshalJSON parses a JSON string into the duration.
func (d *Duration) UnmarshalJSON(text []byte) error {
	s, err := strconv.Unquote(string(text))
	if err != nil {
		return errors.WithStack(err)
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a TOML string into the duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.WithStack(err)
	}
	d.Duration = duration
	return nil
}

// ByteSize is a size in bytes written the human way, like "10KB" or "1.5MB". Units are decimal.
type ByteSize uint64

func (b ByteSize) String() string {
	return units.HumanSize(float64(b))
}

// MarshalJSON returns the size as a JSON string.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string or number into the size.
func (b *ByteSize) UnmarshalJSON(text []byte) error {
	s, err := strconv.Unquote(string(text))
	if err != nil {
		s = string(text)
	}
	return b.UnmarshalText([]byte(s))
}

// UnmarshalText parses a TOML string into the size.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.FromHumanSize(string(text))
	if err != nil {
		return errors.WithStack(err)
	}
	if v < 0 {
		return errors.Errorf("negative size %q", text)
	}
	*b = ByteSize(v)
	return nil
}
