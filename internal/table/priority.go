package table

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Priority orders filters, transformations and tables. Lower runs first.
type Priority int

const (
	VeryHigh Priority = iota
	High
	Normal
	Low
	VeryLow
)

var priorityNames = map[string]Priority{
	"very_high": VeryHigh,
	"high":      High,
	"normal":    Normal,
	"low":       Low,
	"very_low":  VeryLow,
}

func (p Priority) String() string {
	for name, v := range priorityNames {
		if v == p {
			return strings.ToUpper(name)
		}
	}
	return strconv.Itoa(int(p))
}

func ParsePriority(s string) (Priority, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if p, ok := priorityNames[key]; ok {
		return p, nil
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: priority must be a scalar", value.Line)
	}
	parsed, err := ParsePriority(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*p = parsed
	return nil
}
