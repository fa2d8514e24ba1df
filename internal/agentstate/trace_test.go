package agentstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestTraceLifecycle(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("fix flaky test", "")
	require.NoError(t, err)
	require.NotEmpty(t, trace.SessionID)

	res, err := a.AddStep(trace.SessionID, StepInput{
		Tool:       "grep",
		Intent:     "find the assertion",
		Outcome:    models.OutcomeFound,
		DurationMs: 1200,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Escalation)
	assert.Equal(t, "Continue working.", res.Recommendation)

	done, err := a.CompleteTrace(trace.SessionID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 1, done.Summary.TotalSteps)
	assert.Equal(t, 1.0, done.Summary.Efficiency)

	// Completed traces accept no more steps.
	_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: models.OutcomeFound})
	var stateErr *models.StateError
	require.ErrorAs(t, err, &stateErr)

	_, err = a.CompleteTrace(trace.SessionID)
	require.ErrorAs(t, err, &stateErr)
}

func TestStepValidation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("task", "")
	require.NoError(t, err)

	_, err = a.AddStep(trace.SessionID, StepInput{Outcome: models.OutcomeFound})
	assert.Error(t, err, "tool is required")

	_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: "banana"})
	assert.Error(t, err, "outcome must be a known value")

	_, err = a.AddStep("session_missing", StepInput{Tool: "grep", Outcome: models.OutcomeFound})
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStuckLoopEscalation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("find the bug", "")
	require.NoError(t, err)

	// Three grep steps finding nothing: stuck_loop (level 2) and
	// repeated_failures (level 1) both fire on the third step.
	var last *StepResult
	for i := 0; i < 3; i++ {
		last, err = a.AddStep(trace.SessionID, StepInput{
			Tool:       "grep",
			Intent:     "search for the symbol",
			Outcome:    models.OutcomeNothing,
			DurationMs: 500,
		})
		require.NoError(t, err)
	}

	require.NotNil(t, last.Escalation)
	assert.Equal(t, 2, last.Escalation.HighestLevel)
	assert.Contains(t, last.Recommendation, "Pause")

	types := make([]string, 0, len(last.Escalation.Triggers))
	for _, trig := range last.Escalation.Triggers {
		types = append(types, trig.Type)
	}
	assert.Contains(t, types, models.TriggerStuckLoop)
	assert.Contains(t, types, models.TriggerRepeatedFailures)

	escalations, err := a.ListEscalations(trace.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, escalations)
}

func TestErrorAccumulationEscalation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("deploy", "")
	require.NoError(t, err)

	_, err = a.AddStep(trace.SessionID, StepInput{Tool: "kubectl", Outcome: models.OutcomeError, DurationMs: 100})
	require.NoError(t, err)
	res, err := a.AddStep(trace.SessionID, StepInput{Tool: "helm", Outcome: models.OutcomeError, DurationMs: 100})
	require.NoError(t, err)

	require.NotNil(t, res.Escalation)
	assert.Equal(t, 2, res.Escalation.HighestLevel)
	require.Len(t, res.Escalation.Triggers, 1)
	assert.Equal(t, models.TriggerErrorAccumulation, res.Escalation.Triggers[0].Type)
}

func TestTimeExceededEscalation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("long slog", "")
	require.NoError(t, err)

	// Move the clock 11 minutes past the trace start.
	a.now = func() time.Time { return trace.StartedAt.Add(11 * time.Minute) }

	res, err := a.AddStep(trace.SessionID, StepInput{Tool: "editor", Outcome: models.OutcomeFound, DurationMs: 100})
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, 1, res.Escalation.HighestLevel)
	assert.Equal(t, models.TriggerTimeExceeded, res.Escalation.Triggers[0].Type)
	assert.Contains(t, res.Recommendation, "pausing")
}

func TestLowEfficiencyEscalation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("explore", "")
	require.NoError(t, err)

	// 2 productive + 3 minimal-contribution steps: 3/5 = 0.6 is not > 0.6.
	steps := []StepInput{
		{Tool: "read", Outcome: models.OutcomeFound, DurationMs: 100},
		{Tool: "read", Outcome: models.OutcomeFound, DurationMs: 100},
		{Tool: "web", Outcome: models.OutcomePartial, ContributionType: models.ContributionMinimal, DurationMs: 100},
		{Tool: "docs", Outcome: models.OutcomePartial, ContributionType: models.ContributionMinimal, DurationMs: 100},
		{Tool: "wiki", Outcome: models.OutcomePartial, ContributionType: models.ContributionMinimal, DurationMs: 100},
	}
	var res *StepResult
	for _, s := range steps {
		res, err = a.AddStep(trace.SessionID, s)
		require.NoError(t, err)
	}
	assert.Nil(t, res.Escalation)

	// A sixth non-productive step tips the fraction to 4/6 > 0.6.
	res, err = a.AddStep(trace.SessionID, StepInput{Tool: "forum", Outcome: models.OutcomePartial, ContributionType: models.ContributionMinimal, DurationMs: 100})
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	types := make([]string, 0, len(res.Escalation.Triggers))
	for _, trig := range res.Escalation.Triggers {
		types = append(types, trig.Type)
	}
	assert.Contains(t, types, models.TriggerLowEfficiency)
}

func TestSummaryEfficiency(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("measured", "")
	require.NoError(t, err)

	_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: models.OutcomeNothing, DurationMs: 3000})
	require.NoError(t, err)
	_, err = a.AddStep(trace.SessionID, StepInput{Tool: "read", Outcome: models.OutcomeFound, DurationMs: 1000})
	require.NoError(t, err)

	done, err := a.CompleteTrace(trace.SessionID)
	require.NoError(t, err)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 2, done.Summary.TotalSteps)
	assert.Equal(t, 1, done.Summary.DeadEnds)
	assert.Equal(t, int64(1000), done.Summary.SolutionTimeMs)
	assert.Equal(t, int64(3000), done.Summary.ExplorationTimeMs)
	assert.InDelta(t, 0.25, done.Summary.Efficiency, 1e-9)
	assert.GreaterOrEqual(t, done.Summary.Efficiency, 0.0)
	assert.LessOrEqual(t, done.Summary.Efficiency, 1.0)
}

func TestSummaryZeroDurationIsZeroEfficiency(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("instant", "")
	require.NoError(t, err)
	done, err := a.CompleteTrace(trace.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, done.Summary.Efficiency)
}

func TestResolveEscalation(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("stuck task", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: models.OutcomeNothing, DurationMs: 100})
		require.NoError(t, err)
	}

	resolved, err := a.ResolveEscalation(trace.SessionID, "", models.ResolvedByPeer, "bob", "look in internal/hub")
	require.NoError(t, err)
	require.NotEmpty(t, resolved)
	assert.Equal(t, models.ResolvedByPeer, resolved[0].ResolvedBy)
	assert.Equal(t, "bob", resolved[0].ResolverAgent)
	assert.Equal(t, "look in internal/hub", resolved[0].HelpfulHint)

	// Nothing left unresolved.
	again, err := a.ResolveEscalation(trace.SessionID, "", models.ResolvedBySelf, "", "")
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = a.ResolveEscalation(trace.SessionID, "esc_missing", models.ResolvedBySelf, "", "")
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = a.ResolveEscalation(trace.SessionID, "", "alien", "", "")
	assert.Error(t, err, "resolver must be self, peer, or human")
}
