package position

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"bos-cli/internal/model"
)

const (
	DefaultSpacing            = 10000
	DefaultInitialPosition    = 10000
	DefaultRandomRangePercent = 0.5
	DefaultPositionField      = "position"

	// RandomizationThreshold is the smallest neighbour gap that gets a randomized midpoint.
	RandomizationThreshold = 4
)

// Config controls position allocation. Zero values resolve to the defaults above
// (see WithDefaults), so a zero Config is usable.
type Config struct {
	DefaultSpacing     float64 `json:"defaultSpacing,omitempty"`
	InitialPosition    float64 `json:"initialPosition,omitempty"`
	RandomRangePercent float64 `json:"randomRangePercent,omitempty"`

	// DisableRandomization makes every allocation deterministic. Intended for tests.
	DisableRandomization bool `json:"disableRandomization,omitempty"`

	// PositionField names the ordering column in transport rows and storage.
	PositionField string `json:"positionField,omitempty"`

	// ScopeFields are the fields, besides parent_id, that define a sibling scope.
	ScopeFields []string `json:"scopeFields,omitempty"`

	// AllowManualPositioning permits callers to pass explicit numeric positions.
	AllowManualPositioning bool `json:"allowManualPositioning,omitempty"`

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64 `json:"-"`
}

func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.DefaultSpacing == 0 {
		c.DefaultSpacing = DefaultSpacing
	}
	if c.InitialPosition == 0 {
		c.InitialPosition = DefaultInitialPosition
	}
	if c.RandomRangePercent == 0 {
		c.RandomRangePercent = DefaultRandomRangePercent
	}
	if strings.TrimSpace(c.PositionField) == "" {
		c.PositionField = DefaultPositionField
	}
	if c.ScopeFields != nil {
		c.ScopeFields = append([]string(nil), c.ScopeFields...)
	}
	return c
}

// Deterministic returns a copy with randomization disabled.
func (c Config) Deterministic() Config {
	c.DisableRandomization = true
	return c
}

func (c Config) random() float64 {
	if c.Rand != nil {
		return c.Rand()
	}
	return rand.Float64()
}

var fieldNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate reports configuration the arithmetic does not guard against. Calculate never calls
// it; it exists for config loaded from files or flags.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultSpacing < 0 {
		errs = append(errs, fmt.Errorf("defaultSpacing must be positive, got %v", c.DefaultSpacing))
	}
	if c.RandomRangePercent < 0 || c.RandomRangePercent > 1 {
		errs = append(errs, fmt.Errorf("randomRangePercent must be within [0,1], got %v", c.RandomRangePercent))
	}
	if f := strings.TrimSpace(c.PositionField); f != "" && !fieldNameRe.MatchString(f) {
		errs = append(errs, fmt.Errorf("invalid positionField %q", c.PositionField))
	}
	for _, f := range c.ScopeFields {
		if !fieldNameRe.MatchString(f) {
			errs = append(errs, fmt.Errorf("invalid scope field %q", f))
		}
	}
	return errors.Join(errs...)
}

// ScopeValues returns the values of the configured scope fields for t.
// Recognized fields are job_id and parent_id; anything else resolves to "".
func ScopeValues(t model.Task, fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		switch f {
		case "job_id":
			out[f] = strings.TrimSpace(t.JobID)
		case "parent_id":
			out[f] = t.Parent()
		default:
			out[f] = ""
		}
	}
	return out
}

// SameScope reports whether a and b share every configured scope field value. parent_id is
// not implied; callers compare parents separately.
func SameScope(a, b model.Task, fields []string) bool {
	va := ScopeValues(a, fields)
	vb := ScopeValues(b, fields)
	for _, f := range fields {
		if va[f] != vb[f] {
			return false
		}
	}
	return true
}
