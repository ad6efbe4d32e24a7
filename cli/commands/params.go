package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// parseParams turns name=value pairs into query parameters. Positional
// parameters use their number as the name, e.g. 1=foo for ?1.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", p)
		}
		params[name] = parseValue(value)
	}
	return params, nil
}

// parseValue reads s as an int, a float, a bool or the literal null, in
// that order, and falls back to the string itself. Quoted strings are
// always strings.
func parseValue(s string) any {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return s
}
