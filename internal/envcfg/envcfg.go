// Package envcfg centralizes the env-var resolution the rest of the
// codebase used to do ad hoc with os.Getenv: a string lookup with a
// fallback key list and default, plus typed bool/int/duration helpers for
// the handful of flags the permission engine and gateway read at runtime.
package envcfg

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the first non-empty value among the given env var names,
// or def if none are set.
func String(def string, names ...string) string {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
	}
	return def
}

// Bool parses name as a boolean ("1", "true", "yes", "on" are all truthy,
// case-insensitively), returning def if unset or unparseable.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	lower := strings.ToLower(v)
	b, err := strconv.ParseBool(lower)
	if err != nil {
		switch lower {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return def
	}
	return b
}

// Int parses name as an integer, returning def if unset or unparseable.
func Int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Duration parses name with time.ParseDuration, returning def if unset or
// unparseable.
func Duration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// StringSet parses name as a comma-separated list, trimming nothing (the
// tools/permissions this feeds are exact-match keys), returning nil if
// unset or empty.
func StringSet(name string) map[string]bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	set := make(map[string]bool)
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				set[v[start:i]] = true
			}
			start = i + 1
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// AutoApproveTools reports whether NDC_AUTO_APPROVE_TOOLS permits the given
// permission key to bypass interactive confirmation: the env var is either
// "*" or a truthy value ("1", "true", "yes", "on", case-insensitively),
// which approve everything, or a comma-separated allowlist of keys.
func AutoApproveTools(permissionKey string) bool {
	v, ok := os.LookupEnv("NDC_AUTO_APPROVE_TOOLS")
	if !ok || v == "" {
		return false
	}
	if v == "*" {
		return true
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return StringSet("NDC_AUTO_APPROVE_TOOLS")[permissionKey]
}
