package recovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/pkg/models"
)

func TestClassify(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		name       string
		failure    models.Failure
		critical   bool
		attempts   int
		wantTier   models.Tier
		wantAction models.RecoveryAction
	}{
		{
			name:       "transient signal retries verbatim",
			failure:    models.Failure{Signal: "open go.mod: no such file or directory", ExitCode: 1},
			attempts:   1,
			wantTier:   models.TierAutoRetry,
			wantAction: models.ActionRetryVerbatim,
		},
		{
			name:       "import error is transient",
			failure:    models.Failure{Signal: "ModuleNotFoundError: No module named 'x'"},
			critical:   true,
			attempts:   2,
			wantTier:   models.TierAutoRetry,
			wantAction: models.ActionRetryVerbatim,
		},
		{
			name:       "logic signal retries with guidance",
			failure:    models.Failure{Signal: "--- FAIL: TestSum\nexpected 4 got 5", ExitCode: 1},
			attempts:   1,
			wantTier:   models.TierGuidedRetry,
			wantAction: models.ActionRetryWithGuidance,
		},
		{
			name:       "transient exhausted on non-critical skips",
			failure:    models.Failure{Signal: "syntax error near line 3"},
			attempts:   3,
			wantTier:   models.TierFailGracefully,
			wantAction: models.ActionSkipTask,
		},
		{
			name:       "logic exhausted on critical halts",
			failure:    models.Failure{Signal: "2 tests failed"},
			critical:   true,
			attempts:   3,
			wantTier:   models.TierHalt,
			wantAction: models.ActionHaltRun,
		},
		{
			name:       "unmatched signal on non-critical skips",
			failure:    models.Failure{Signal: "segmentation fault", ExitCode: 139},
			attempts:   1,
			wantTier:   models.TierFailGracefully,
			wantAction: models.ActionSkipTask,
		},
		{
			name:       "unmatched signal on critical halts",
			failure:    models.Failure{Signal: "segmentation fault", ExitCode: 139},
			critical:   true,
			attempts:   1,
			wantTier:   models.TierHalt,
			wantAction: models.ActionHaltRun,
		},
		{
			name:       "infrastructure always halts",
			failure:    models.Failure{Infrastructure: true, Signal: "no such file"},
			attempts:   1,
			wantTier:   models.TierHalt,
			wantAction: models.ActionHaltRun,
		},
		{
			name:       "timeout retries by default",
			failure:    models.Failure{Timeout: true},
			critical:   true,
			attempts:   1,
			wantTier:   models.TierAutoRetry,
			wantAction: models.ActionRetryVerbatim,
		},
		{
			name:       "timeout exhausted on non-critical skips",
			failure:    models.Failure{Timeout: true},
			attempts:   3,
			wantTier:   models.TierFailGracefully,
			wantAction: models.ActionSkipTask,
		},
		{
			name:       "logic hint overrides patterns",
			failure:    models.Failure{Kind: models.FailureLogic, Signal: "no such file"},
			attempts:   1,
			wantTier:   models.TierGuidedRetry,
			wantAction: models.ActionRetryWithGuidance,
		},
		{
			name:       "critical hint promotes task",
			failure:    models.Failure{Kind: models.FailureCritical},
			attempts:   1,
			wantTier:   models.TierHalt,
			wantAction: models.ActionHaltRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.failure, tt.critical, tt.attempts)
			assert.Equal(t, tt.wantTier, got.Tier, got.Reason)
			assert.Equal(t, tt.wantAction, got.Action, got.Reason)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := MustDefault()
	f := models.Failure{Signal: "assertion failed: want 3", ExitCode: 1}

	first := c.Classify(f, true, 2)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, c.Classify(f, true, 2))
	}
}

func TestClassifyNeverRetriesPastBudget(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		p := DefaultPolicy()
		p.MaxAttempts = max
		c, err := NewClassifier(p)
		require.NoError(t, err)

		for _, signal := range []string{"not found", "tests failed"} {
			for attempts := max; attempts < max+3; attempts++ {
				d := c.Classify(models.Failure{Signal: signal}, false, attempts)
				assert.False(t, d.Action.Retries(), "max=%d attempts=%d signal=%q", max, attempts, signal)
				assert.Contains(t, d.Reason, "exhausted")
			}
		}
	}
}

func TestClassifyMaxAttemptsOneHaltsCritical(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	c, err := NewClassifier(p)
	require.NoError(t, err)

	d := c.Classify(models.Failure{Signal: "wrong output"}, true, 1)
	assert.Equal(t, models.TierHalt, d.Tier)
}

func TestClassifyTimeoutTier(t *testing.T) {
	tests := []struct {
		timeoutTier int
		want        models.Tier
	}{
		{1, models.TierAutoRetry},
		{2, models.TierGuidedRetry},
		{3, models.TierFailGracefully},
	}
	for _, tt := range tests {
		p := DefaultPolicy()
		p.TimeoutTier = tt.timeoutTier
		c, err := NewClassifier(p)
		require.NoError(t, err)

		d := c.Classify(models.Failure{Timeout: true}, false, 1)
		assert.Equal(t, tt.want, d.Tier, "timeout_tier=%d", tt.timeoutTier)
	}
}

func TestNewClassifierRejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"timeout tier 4", func(p *Policy) { p.TimeoutTier = 4 }},
		{"negative tail", func(p *Policy) { p.GuidanceTailLines = -1 }},
		{"bad regexp", func(p *Policy) { p.LogicPatterns = []string{"("} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			_, err := NewClassifier(p)
			assert.Error(t, err)
		})
	}
}

func TestGuidance(t *testing.T) {
	p := DefaultPolicy()
	p.GuidanceTailLines = 2
	c, err := NewClassifier(p)
	require.NoError(t, err)

	got := c.Guidance("build the parser", 1, models.Failure{Signal: "line1\nline2\nexpected 1 got 2\n"})

	assert.True(t, strings.HasPrefix(got, "[RETRY ATTEMPT 2]\n"))
	assert.Contains(t, got, "Previous attempt 1 failed.")
	assert.Contains(t, got, "line2\nexpected 1 got 2")
	assert.NotContains(t, got, "line1")
	assert.True(t, strings.HasSuffix(got, "Original task:\nbuild the parser"))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "", Tail("", 3))
	assert.Equal(t, "", Tail("abc", 0))
	assert.Equal(t, "b\nc", Tail("a\nb\nc\n", 2))
	assert.Equal(t, "a\nb", Tail("a\nb", 10))
}
