package intent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduassist/supervisor/internal/registry"
)

type fakeOracle struct {
	result *Result
	err    error
}

func (f *fakeOracle) Classify(ctx context.Context, req Request) (*Result, error) {
	return f.result, f.err
}

func TestIdentifyRoutesAboveThreshold(t *testing.T) {
	primary := &fakeOracle{result: &Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.9}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRoute, d.Outcome)
}

func TestIdentifyClarifiesBelowLowerThreshold(t *testing.T) {
	primary := &fakeOracle{result: &Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.2}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, d.Outcome)
}

func TestIdentifyLowConfidenceBetweenThresholds(t *testing.T) {
	primary := &fakeOracle{result: &Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.5}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLowConf, d.Outcome)
}

func TestIdentifyRespectsExplicitClarifyingQuestions(t *testing.T) {
	primary := &fakeOracle{result: &Result{Confidence: 0.95, ClarifyingQuestions: []string{"which topic?"}}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, d.Outcome)
}

func TestIdentifyFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &fakeOracle{err: errors.New("oracle down")}
	fallback := &fakeOracle{result: &Result{AgentID: "gemini_wrapper_agent", Confidence: 0.7}}
	id := New(primary, fallback, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, d.Outcome)
	assert.Equal(t, "gemini_wrapper_agent", d.Result.AgentID)
}

func TestIdentifyPropagatesErrorWithNoFallback(t *testing.T) {
	primary := &fakeOracle{err: errors.New("oracle down")}
	id := New(primary, nil, 0.60, 0.40)

	_, err := id.Identify(context.Background(), Request{})
	assert.Error(t, err)
}

// rateLimitAwareOracle stands in for the keyword oracle's own behavior
// without depending on its package-internal formula: it returns a
// BypassGate result only when it sees RateLimited set on the request,
// proving Identify threads the flag through and honors BypassGate ahead
// of the ordinary confidence gate.
type rateLimitAwareOracle struct{}

func (rateLimitAwareOracle) Classify(ctx context.Context, req Request) (*Result, error) {
	if req.RateLimited {
		return &Result{AgentID: "gemini_wrapper_agent", Confidence: 0.1, BypassGate: true}, nil
	}
	return &Result{AgentID: "gemini_wrapper_agent", Confidence: 0.1}, nil
}

func TestIdentifyMarksFallbackRequestRateLimitedAndBypassesGate(t *testing.T) {
	primary := &fakeOracle{err: fmt.Errorf("%w: too many requests", ErrRateLimited)}
	id := New(primary, rateLimitAwareOracle{}, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, d.Outcome)
	assert.True(t, d.Result.BypassGate)
}

func quizCatalogRequiringTopic() []registry.Snapshot {
	return []registry.Snapshot{
		{Descriptor: registry.Descriptor{ID: "adaptive_quiz_master_agent", RequiredParams: []string{"topic"}}},
	}
}

func TestIdentifyClarifiesWhenRequiredParamMissing(t *testing.T) {
	primary := &fakeOracle{result: &Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.9}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{Catalog: quizCatalogRequiringTopic()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, d.Outcome)
	require.NotEmpty(t, d.Result.ClarifyingQuestions)
	assert.Contains(t, d.Result.ClarifyingQuestions[0], "topic")
}

func TestIdentifyKnownParamsSatisfyRequiredParam(t *testing.T) {
	primary := &fakeOracle{result: &Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.9}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{
		Catalog:     quizCatalogRequiringTopic(),
		KnownParams: map[string]interface{}{"topic": "sorting algorithms"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRoute, d.Outcome)
	assert.Equal(t, "sorting algorithms", d.Result.ExtractedParams["topic"])
}

func TestIdentifyCurrentTurnParamsOverwriteKnownParams(t *testing.T) {
	primary := &fakeOracle{result: &Result{
		AgentID:         "adaptive_quiz_master_agent",
		Confidence:      0.9,
		ExtractedParams: map[string]interface{}{"topic": "recursion"},
	}}
	id := New(primary, nil, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{
		Catalog:     quizCatalogRequiringTopic(),
		KnownParams: map[string]interface{}{"topic": "sorting algorithms", "difficulty": "easy"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRoute, d.Outcome)
	assert.Equal(t, "recursion", d.Result.ExtractedParams["topic"])
	assert.Equal(t, "easy", d.Result.ExtractedParams["difficulty"])
}

func TestIdentifyNonRateLimitFailureDoesNotBypassGate(t *testing.T) {
	primary := &fakeOracle{err: errors.New("oracle down")}
	id := New(primary, rateLimitAwareOracle{}, 0.60, 0.40)

	d, err := id.Identify(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, d.Outcome) // 0.1 confidence, not bypassed
}
