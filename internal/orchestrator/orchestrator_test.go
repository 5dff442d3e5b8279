package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduassist/supervisor/internal/debugstore"
	"github.com/eduassist/supervisor/internal/dispatch"
	"github.com/eduassist/supervisor/internal/intent"
	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/registry"
)

type fakeOracle struct {
	result *intent.Result
	err    error
}

func (f *fakeOracle) Classify(ctx context.Context, req intent.Request) (*intent.Result, error) {
	return f.result, f.err
}

type alwaysHealthyProber struct{ healthy bool }

func (p alwaysHealthyProber) Probe(ctx context.Context, agentID string) bool { return p.healthy }

func newTestRegistry(t *testing.T, agents map[string]string) *registry.Registry {
	t.Helper()
	type descriptor struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	var descs []descriptor
	for id, url := range agents {
		descs = append(descs, descriptor{ID: id, Name: id, URL: url})
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	data, err := json.Marshal(descs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	reg, err := registry.Load(path)
	require.NoError(t, err)
	return reg
}

func successWorker(output string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dispatch.CompletionReport{
			Status:  dispatch.StatusSuccess,
			Results: map[string]interface{}{"output": output},
		})
	}
}

func newOrchestrator(t *testing.T, oracle intent.Oracle, agents map[string]string, healthyAgents []string) (*Orchestrator, *registry.Registry, memory.Store) {
	t.Helper()
	reg := newTestRegistry(t, agents)
	for _, id := range healthyAgents {
		reg.SetStatus(id, registry.StatusHealthy)
	}
	logger := obslog.New("test")
	disp := dispatch.New(reg, alwaysHealthyProber{healthy: true}, debugstore.New(), logger)
	identifier := intent.New(oracle, nil, 0.60, 0.40)
	store := memory.NewInMemory()
	return New(reg, identifier, disp, store, logger), reg, store
}

func TestHandleRoutesHighConfidenceToAgent(t *testing.T) {
	srv := httptest.NewServer(successWorker("here is your quiz"))
	defer srv.Close()

	oracle := &fakeOracle{result: &intent.Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.95, Reasoning: "clear quiz request"}}
	orch, _, store := newOrchestrator(t, oracle, map[string]string{"adaptive_quiz_master_agent": srv.URL}, []string{"adaptive_quiz_master_agent"})

	result, err := orch.Handle(context.Background(), Request{UserID: "u1", Message: "Create a 10-question Python quiz", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Nil(t, result.Response.Error)
	assert.Equal(t, "adaptive_quiz_master_agent", result.Response.Metadata.IdentifiedAgent)
	assert.Equal(t, 0.95, result.Response.Metadata.Confidence)

	history, err := store.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleUser, history[0].Role)
	assert.Equal(t, memory.RoleAssistant, history[1].Role)
}

func TestHandleLowConfidenceReturnsClarification(t *testing.T) {
	oracle := &fakeOracle{result: &intent.Result{Confidence: 0.1, ClarifyingQuestions: []string{"What subject is this about?"}}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"gemini_wrapper_agent": "http://unused"}, nil)

	result, err := orch.Handle(context.Background(), Request{UserID: "u2", Message: "I need help", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Clarification)
	assert.Equal(t, "clarification_needed", result.Clarification.Status)
	assert.NotEmpty(t, result.Clarification.ClarifyingQuestions)
	assert.Equal(t, 1, result.Clarification.ClarificationCount)
}

func TestHandleEmptyMessageForcesClarification(t *testing.T) {
	oracle := &fakeOracle{result: &intent.Result{Confidence: 0.9, AgentID: "gemini_wrapper_agent"}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"gemini_wrapper_agent": "http://unused"}, nil)

	result, err := orch.Handle(context.Background(), Request{UserID: "u3", Message: "   ", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Clarification)
	assert.Equal(t, 1, result.Clarification.ClarificationCount)
}

func TestHandleLivelockEscapeAfterThreeClarifications(t *testing.T) {
	oracle := &fakeOracle{result: &intent.Result{Confidence: 0.1, ClarifyingQuestions: []string{"which topic?"}}}
	srv := httptest.NewServer(successWorker("wrapper reply"))
	defer srv.Close()

	orch, _, store := newOrchestrator(t, oracle, map[string]string{"gemini_wrapper_agent": srv.URL}, []string{"gemini_wrapper_agent"})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := orch.Handle(ctx, Request{UserID: "u4", Message: "I need help", AutoRoute: true})
		require.NoError(t, err)
		require.NotNil(t, result.Clarification)
	}

	result, err := orch.Handle(ctx, Request{UserID: "u4", Message: "anything at all", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Contains(t, result.Response.Metadata.Reasoning, "multiple clarification attempts")
	assert.Equal(t, "gemini_wrapper_agent", result.Response.Metadata.IdentifiedAgent)

	history, err := store.History(ctx, "u4", 0)
	require.NoError(t, err)
	assert.Len(t, history, 8)
}

func TestHandleFallsBackToAlternativeAgentWhenPrimaryOffline(t *testing.T) {
	srv := httptest.NewServer(successWorker("fallback handled it"))
	defer srv.Close()

	oracle := &fakeOracle{result: &intent.Result{
		AgentID:           "adaptive_quiz_master_agent",
		Confidence:        0.9,
		AlternativeAgents: []string{"gemini_wrapper_agent"},
	}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{
		"adaptive_quiz_master_agent": "http://127.0.0.1:1", // nothing listening, left offline
		"gemini_wrapper_agent":       srv.URL,
	}, []string{"gemini_wrapper_agent"})

	result, err := orch.Handle(context.Background(), Request{UserID: "u5", Message: "quiz me", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Equal(t, "adaptive_quiz_master_agent", result.Response.Metadata.IdentifiedAgent)
	assert.Equal(t, "gemini_wrapper_agent", result.Response.Metadata.AgentName)
	assert.Contains(t, result.Response.Response, "fallback handled it")
}

func TestHandleReturnsOfflineMessageWhenNoHealthyAgent(t *testing.T) {
	oracle := &fakeOracle{result: &intent.Result{AgentID: "adaptive_quiz_master_agent", Confidence: 0.9}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"adaptive_quiz_master_agent": "http://127.0.0.1:1"}, nil)

	result, err := orch.Handle(context.Background(), Request{UserID: "u6", Message: "quiz me", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	require.NotNil(t, result.Response.Error)
	assert.Equal(t, "AGENT_OFFLINE", result.Response.Error.Code)
}

func TestHandleExplicitAgentSkipsIdentification(t *testing.T) {
	srv := httptest.NewServer(successWorker("explicit route"))
	defer srv.Close()

	oracle := &fakeOracle{err: assertUnreachableError{}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"assignment_coach_agent": srv.URL}, []string{"assignment_coach_agent"})

	result, err := orch.Handle(context.Background(), Request{
		UserID: "u7", Message: "grade this", AgentID: "assignment_coach_agent", AutoRoute: false,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Equal(t, "assignment_coach_agent", result.Response.Metadata.IdentifiedAgent)
}

func TestHandleDispatcherClarificationNeededBecomesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(dispatch.CompletionReport{
			Status: dispatch.StatusFailure,
			Results: map[string]interface{}{
				"clarification_needed": true,
				"message":              "need the essay text",
				"clarifying_questions": []interface{}{"paste the essay"},
			},
		})
	}))
	defer srv.Close()

	oracle := &fakeOracle{result: &intent.Result{AgentID: "plagiarism_prevention_agent", Confidence: 0.9}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"plagiarism_prevention_agent": srv.URL}, []string{"plagiarism_prevention_agent"})

	result, err := orch.Handle(context.Background(), Request{UserID: "u8", Message: "check my essay", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, result.Clarification)
	assert.Contains(t, result.Clarification.ClarifyingQuestions, "paste the essay")
}

// assertUnreachableError is only ever constructed to fail a test loudly if
// the explicit-agent path unexpectedly calls the oracle.
type assertUnreachableError struct{}

func (assertUnreachableError) Error() string { return "oracle should not have been called" }

func TestHandleUnknownExplicitAgentFallsBackToIdentification(t *testing.T) {
	srv := httptest.NewServer(successWorker("routed by identifier"))
	defer srv.Close()

	oracle := &fakeOracle{result: &intent.Result{AgentID: "gemini_wrapper_agent", Confidence: 0.9}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"gemini_wrapper_agent": srv.URL}, []string{"gemini_wrapper_agent"})

	result, err := orch.Handle(context.Background(), Request{
		UserID: "u9", Message: "do something useful", AgentID: "no_such_agent", AutoRoute: false,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Nil(t, result.Response.Error)
	assert.Equal(t, "gemini_wrapper_agent", result.Response.Metadata.IdentifiedAgent)
}

func TestHandleAccumulatesExtractedParamsAcrossTurns(t *testing.T) {
	srv := httptest.NewServer(successWorker("study plan ready"))
	defer srv.Close()

	oracle := &fakeOracle{result: &intent.Result{
		Confidence:          0.3,
		ClarifyingQuestions: []string{"Which assignment do you mean?"},
		ExtractedParams:     map[string]interface{}{"subject": "Python"},
	}}
	orch, _, _ := newOrchestrator(t, oracle, map[string]string{"assignment_coach_agent": srv.URL}, []string{"assignment_coach_agent"})

	ctx := context.Background()
	first, err := orch.Handle(ctx, Request{UserID: "u10", Message: "help with my assignment", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, first.Clarification)

	oracle.result = &intent.Result{
		AgentID:         "assignment_coach_agent",
		Confidence:      0.9,
		ExtractedParams: map[string]interface{}{"task_description": "sorting algorithms assignment"},
	}
	second, err := orch.Handle(ctx, Request{UserID: "u10", Message: "the sorting algorithms one", AutoRoute: true})
	require.NoError(t, err)
	require.NotNil(t, second.Response)

	params := second.Response.Metadata.ExtractedParams
	assert.Equal(t, "Python", params["subject"])
	assert.Equal(t, "sorting algorithms assignment", params["task_description"])
}
