package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ponswarp/ponswarp-signaling/internal/origin"
)

// source resolves settings from the environment, then the config file. A
// value that fails to parse falls back to the default and is recorded in
// warnings instead of failing startup.
type source struct {
	lookup   func(string) (string, bool)
	file     map[string]string
	warnings []string
}

func (s *source) raw(key string) (value, from string, ok bool) {
	if v, ok := s.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), "environment", true
	}
	if v, ok := s.file[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), "config file", true
	}
	return "", "", false
}

func (s *source) warn(key, from, value string, fallback any, reason string) {
	s.warnings = append(s.warnings, fmt.Sprintf("%s=%q from %s ignored (%s); using default %v", key, value, from, reason, fallback))
}

func (s *source) str(key, fallback string) string {
	if v, _, ok := s.raw(key); ok {
		return v
	}
	return fallback
}

func (s *source) enum(key, fallback string, validate func(string) error) string {
	v, from, ok := s.raw(key)
	if !ok {
		return fallback
	}
	if err := validate(v); err != nil {
		s.warn(key, from, v, fallback, err.Error())
		return fallback
	}
	return v
}

func (s *source) integer(key string, fallback int, valid func(int) bool) int {
	v, from, ok := s.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.warn(key, from, v, fallback, "not an integer")
		return fallback
	}
	if valid != nil && !valid(n) {
		s.warn(key, from, v, fallback, "out of range")
		return fallback
	}
	return n
}

func (s *source) boolean(key string, fallback bool) bool {
	v, from, ok := s.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.warn(key, from, v, fallback, "not a boolean")
		return fallback
	}
	return b
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	v, from, ok := s.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		s.warn(key, from, v, fallback, "not a positive duration")
		return fallback
	}
	return d
}

// millis reads a bare integer as milliseconds; a Go duration string is
// accepted too.
func (s *source) millis(key string, fallback time.Duration) time.Duration {
	return s.scaled(key, fallback, time.Millisecond)
}

// seconds reads a bare integer as seconds; a Go duration string is accepted
// too.
func (s *source) seconds(key string, fallback time.Duration) time.Duration {
	return s.scaled(key, fallback, time.Second)
}

func (s *source) scaled(key string, fallback, unit time.Duration) time.Duration {
	v, from, ok := s.raw(key)
	if !ok {
		return fallback
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			s.warn(key, from, v, fallback, "must be positive")
			return fallback
		}
		return time.Duration(n) * unit
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < unit {
		s.warn(key, from, v, fallback, "not a positive duration")
		return fallback
	}
	return d
}

// origins parses a comma-separated origin list, dropping invalid entries.
func (s *source) origins(key, fallback string) []string {
	def := []string{fallback}
	v, from, ok := s.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, entry := range splitCommaSeparated(v) {
		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			s.warn(key, from, entry, "(entry skipped)", "not a full origin like https://example.com")
			continue
		}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
