package recovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// signalClass is the category a failure signal falls into before
// criticality and attempts are considered.
type signalClass int

const (
	classNone signalClass = iota
	classTransient
	classLogic
)

// Classifier assigns failed attempts to recovery tiers. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	policy    Policy
	transient []*regexp.Regexp
	logic     []*regexp.Regexp
}

// NewClassifier compiles the policy into a classifier.
func NewClassifier(policy Policy) (*Classifier, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recovery policy: %w", err)
	}
	transient, err := compilePatterns(policy.TransientPatterns)
	if err != nil {
		return nil, fmt.Errorf("transient patterns: %w", err)
	}
	logic, err := compilePatterns(policy.LogicPatterns)
	if err != nil {
		return nil, fmt.Errorf("logic patterns: %w", err)
	}
	policy.TransientPatterns = append([]string(nil), policy.TransientPatterns...)
	policy.LogicPatterns = append([]string(nil), policy.LogicPatterns...)
	return &Classifier{policy: policy, transient: transient, logic: logic}, nil
}

// MustDefault returns a classifier for DefaultPolicy.
func MustDefault() *Classifier {
	c, err := NewClassifier(DefaultPolicy())
	if err != nil {
		panic(err)
	}
	return c
}

// Policy returns a copy of the policy the classifier was built from.
func (c *Classifier) Policy() Policy {
	p := c.policy
	p.TransientPatterns = append([]string(nil), c.policy.TransientPatterns...)
	p.LogicPatterns = append([]string(nil), c.policy.LogicPatterns...)
	return p
}

// MaxAttempts returns the attempt budget per task.
func (c *Classifier) MaxAttempts() int {
	return c.policy.MaxAttempts
}

// Classify maps a failed attempt to a recovery decision. attempts is the
// number of attempts made so far, including the one that failed. The result
// depends only on the arguments and the policy.
//
// Precedence: infrastructure failures halt. Transient signals (and timeouts,
// by default) retry verbatim while attempts remain; logic signals retry with
// guidance while attempts remain. Anything else fails the task gracefully
// when non-critical and halts the run when critical.
func (c *Classifier) Classify(f models.Failure, critical bool, attempts int) models.RecoveryDecision {
	if f.Infrastructure || f.Kind == models.FailureInfrastructure {
		return models.RecoveryDecision{
			Tier:   models.TierHalt,
			Action: models.ActionHaltRun,
			Reason: "infrastructure failure: executor could not run",
		}
	}
	if f.Kind == models.FailureCritical {
		critical = true
	}

	class := c.classify(f)
	remaining := attempts < c.policy.MaxAttempts

	switch {
	case class == classTransient && remaining:
		return models.RecoveryDecision{
			Tier:   models.TierAutoRetry,
			Action: models.ActionRetryVerbatim,
			Reason: fmt.Sprintf("%s on attempt %d of %d", describe(f, "transient failure"), attempts, c.policy.MaxAttempts),
		}
	case class == classLogic && remaining:
		return models.RecoveryDecision{
			Tier:   models.TierGuidedRetry,
			Action: models.ActionRetryWithGuidance,
			Reason: fmt.Sprintf("%s on attempt %d of %d", describe(f, "logic failure"), attempts, c.policy.MaxAttempts),
		}
	}

	reason := describe(f, "failure")
	if class != classNone {
		reason = fmt.Sprintf("%s, retries exhausted after %d attempts", reason, attempts)
	}
	if critical {
		return models.RecoveryDecision{
			Tier:   models.TierHalt,
			Action: models.ActionHaltRun,
			Reason: "critical task " + reason,
		}
	}
	return models.RecoveryDecision{
		Tier:   models.TierFailGracefully,
		Action: models.ActionSkipTask,
		Reason: "non-critical task " + reason,
	}
}

func (c *Classifier) classify(f models.Failure) signalClass {
	switch f.Kind {
	case models.FailureTransient:
		return classTransient
	case models.FailureLogic:
		return classLogic
	case models.FailureNonCritical:
		return classNone
	}

	if f.Timeout || f.Kind == models.FailureTimeout {
		switch c.policy.TimeoutTier {
		case 1:
			return classTransient
		case 2:
			return classLogic
		default:
			return classNone
		}
	}

	for _, re := range c.transient {
		if re.MatchString(f.Signal) {
			return classTransient
		}
	}
	for _, re := range c.logic {
		if re.MatchString(f.Signal) {
			return classLogic
		}
	}
	return classNone
}

func describe(f models.Failure, fallback string) string {
	if f.Timeout || f.Kind == models.FailureTimeout {
		return "timeout"
	}
	if f.Kind != "" {
		return string(f.Kind) + " failure"
	}
	if f.ExitCode != 0 {
		return fmt.Sprintf("%s (exit %d)", fallback, f.ExitCode)
	}
	return fallback
}

// Guidance builds the amended instruction for a tier 2 retry: the original
// instruction followed by the tail of the previous attempt's diagnostic.
func (c *Classifier) Guidance(instruction string, attempt int, f models.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[RETRY ATTEMPT %d]\n", attempt+1)
	fmt.Fprintf(&b, "Previous attempt %d failed.\n", attempt)
	if tail := Tail(f.Signal, c.policy.GuidanceTailLines); tail != "" {
		b.WriteString("Previous error:\n")
		b.WriteString(tail)
		b.WriteString("\n")
	}
	b.WriteString("\nOriginal task:\n")
	b.WriteString(instruction)
	return b.String()
}

// Tail returns the last n lines of text.
func Tail(text string, n int) string {
	text = strings.TrimRight(text, "\n")
	if n <= 0 || text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
