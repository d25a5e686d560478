package models

import "fmt"

// Tier is one of the four escalating failure-recovery policies.
type Tier int

const (
	// TierAutoRetry retries the same instruction on a fresh attempt.
	TierAutoRetry Tier = 1
	// TierGuidedRetry retries with the previous diagnostic appended.
	TierGuidedRetry Tier = 2
	// TierFailGracefully fails the task and skips its dependents.
	TierFailGracefully Tier = 3
	// TierHalt fails the task and halts the whole run.
	TierHalt Tier = 4
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	return t >= TierAutoRetry && t <= TierHalt
}

func (t Tier) String() string {
	switch t {
	case TierAutoRetry:
		return "tier1-auto-retry"
	case TierGuidedRetry:
		return "tier2-guided-retry"
	case TierFailGracefully:
		return "tier3-fail-gracefully"
	case TierHalt:
		return "tier4-halt"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// RecoveryAction is what the orchestrator does with a failed attempt.
type RecoveryAction string

const (
	ActionRetryVerbatim     RecoveryAction = "retry_verbatim"
	ActionRetryWithGuidance RecoveryAction = "retry_with_guidance"
	ActionSkipTask          RecoveryAction = "skip_task"
	ActionHaltRun           RecoveryAction = "halt_run"
)

// Retries returns true if the action launches another attempt.
func (a RecoveryAction) Retries() bool {
	return a == ActionRetryVerbatim || a == ActionRetryWithGuidance
}

// RecoveryDecision is the classifier output for a failed attempt.
// It lives only for the duration of the run, apart from log lines.
type RecoveryDecision struct {
	Tier   Tier           `json:"tier"`
	Action RecoveryAction `json:"action"`
	Reason string         `json:"reason"`
	// Guidance is the amended instruction for a tier 2 retry.
	Guidance string `json:"guidance,omitempty"`
}

func (d RecoveryDecision) String() string {
	return fmt.Sprintf("%s/%s: %s", d.Tier, d.Action, d.Reason)
}
