package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses Go duration syntax such as "5s".
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Umask is a file creation mask written in octal ("0027").
type Umask struct {
	Value    uint32
	explicit bool
}

// ParseUmask parses an octal mask.
func ParseUmask(s string) (Umask, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0o")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return Umask{}, fmt.Errorf("invalid umask %q: %w", s, err)
	}
	if v > 0o777 {
		return Umask{}, fmt.Errorf("invalid umask %q: exceeds 0777", s)
	}
	return Umask{Value: uint32(v), explicit: true}, nil
}

// UnmarshalText parses the octal representation.
func (u *Umask) UnmarshalText(text []byte) error {
	parsed, err := ParseUmask(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalText renders the mask as a four digit octal string.
func (u Umask) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u Umask) String() string {
	return fmt.Sprintf("%04o", u.Value)
}

// IsSet reports whether the mask was explicitly provided.
func (u Umask) IsSet() bool {
	return u.explicit
}

// Config holds every tunable of the supervisor.
type Config struct {
	// Root is the directory under which daemon sessions are created.
	Root string `yaml:"root"`

	// User and Group name the identity a daemon drops to when started as
	// root.
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Umask Umask  `yaml:"umask"`

	// Shell overrides the interpreter, for example ["/bin/bash", "-c"].
	Shell []string `yaml:"shell"`

	StopTimeout Duration `yaml:"stopTimeout"`
	IdlePause   Duration `yaml:"idlePause"`

	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
}

// Logging configures the supervisor's own log output.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the optional HTTP endpoint.
type Metrics struct {
	Addr string `yaml:"addr"`
}
