// Package recovery classifies failed worker attempts into recovery tiers.
package recovery

import (
	"fmt"
	"regexp"
)

// Policy holds the configurable tier boundaries.
type Policy struct {
	// MaxAttempts bounds tier 1 and tier 2 retries, counting the first attempt.
	MaxAttempts int `mapstructure:"max_attempts"`
	// TransientPatterns mark tier 1 signals. Case-insensitive regexps.
	TransientPatterns []string `mapstructure:"transient_patterns"`
	// LogicPatterns mark tier 2 signals. Case-insensitive regexps.
	LogicPatterns []string `mapstructure:"logic_patterns"`
	// TimeoutTier is the tier a timeout is treated as: 1, 2 or 3.
	TimeoutTier int `mapstructure:"timeout_tier"`
	// GuidanceTailLines is how many diagnostic lines a tier 2 retry carries.
	GuidanceTailLines int `mapstructure:"guidance_tail_lines"`
}

// DefaultTransientPatterns are syntactic or environmental signals that a
// verbatim retry may clear.
var DefaultTransientPatterns = []string{
	`no such file`,
	`not found`,
	`cannot find module`,
	`ModuleNotFoundError`,
	`ImportError`,
	`undefined:`,
	`unexpected EOF`,
	`malformed`,
	`syntax error`,
	`connection reset`,
	`rate limit`,
}

// DefaultLogicPatterns are semantic signals where the worker took the wrong
// approach and needs the previous diagnostic.
var DefaultLogicPatterns = []string{
	`assertion`,
	`tests? failed`,
	`\bFAIL\b`,
	`expected .* got`,
	`wrong`,
	`incorrect`,
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		TransientPatterns: append([]string(nil), DefaultTransientPatterns...),
		LogicPatterns:     append([]string(nil), DefaultLogicPatterns...),
		TimeoutTier:       1,
		GuidanceTailLines: 40,
	}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.TimeoutTier < 1 || p.TimeoutTier > 3 {
		return fmt.Errorf("timeout_tier must be 1, 2 or 3, got %d", p.TimeoutTier)
	}
	if p.GuidanceTailLines < 0 {
		return fmt.Errorf("guidance_tail_lines must not be negative, got %d", p.GuidanceTailLines)
	}
	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
