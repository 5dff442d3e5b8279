// Package orchestrator is the request entry point: it ties the registry,
// intent identifier, payload shaper, dispatcher, and conversation memory
// together behind a single Handle call, keeping routing, dispatch, and
// memory as distinct steps.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eduassist/supervisor/internal/apperr"
	"github.com/eduassist/supervisor/internal/dispatch"
	"github.com/eduassist/supervisor/internal/intent"
	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/registry"
	"github.com/eduassist/supervisor/internal/shape"
)

// GenericWrapperAgent is the catch-all worker used for the livelock escape
// hatch and for out-of-catalog routing.
const GenericWrapperAgent = "gemini_wrapper_agent"

// MaxClarificationAttempts bounds consecutive clarification turns before
// the orchestrator forces a route instead of asking a fourth question.
const MaxClarificationAttempts = 3

const historyWindow = 10

// Request is one inbound user turn.
type Request struct {
	UserID         string
	Message        string
	AgentID        string // explicit override; honored when AutoRoute is false
	AutoRoute      bool
	IncludeHistory bool
}

// ClarificationEnvelope is the user-facing shape returned whenever the
// orchestrator needs more information before it can dispatch, whether the
// ambiguity came from the intent identifier or from the worker itself.
type ClarificationEnvelope struct {
	Status              string                 `json:"status"`
	Message             string                 `json:"message"`
	ClarifyingQuestions []string               `json:"clarifying_questions"`
	IntentInfo          map[string]interface{} `json:"intent_info,omitempty"`
	ClarificationCount  int                    `json:"clarification_count"`
	MaxClarifications   int                    `json:"max_clarifications"`
}

// Result is the Orchestrator's outcome for one turn: exactly one of the
// two fields is set.
type Result struct {
	Clarification *ClarificationEnvelope
	Response      *dispatch.Response
}

// Orchestrator coordinates Registry -> Intent Identifier -> Clarification
// Gate -> Payload Shaper -> Dispatcher -> Memory for one conversation at a
// time; it holds no per-conversation state beyond a serialization lock,
// deriving the clarification count and the accumulated extracted
// parameters from memory history each call so a crash-restart never
// desyncs either from what the user actually saw.
type Orchestrator struct {
	reg        *registry.Registry
	identifier *intent.Identifier
	dispatcher *dispatch.Dispatcher
	store      memory.Store
	logger     obslog.Logger

	maxClarifications int
	historyWindow     int

	// userMu serializes Handle per user id: one user's messages are
	// processed in arrival order, different users proceed independently.
	usersMu sync.Mutex
	userMu  map[string]*sync.Mutex
}

// Option adjusts an Orchestrator being built by New.
type Option func(*Orchestrator)

// WithMaxClarifications overrides the consecutive-clarification cap.
func WithMaxClarifications(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxClarifications = n
		}
	}
}

// WithHistoryWindow overrides how many recent turns feed identification.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// New builds an Orchestrator.
func New(reg *registry.Registry, identifier *intent.Identifier, dispatcher *dispatch.Dispatcher, store memory.Store, logger obslog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:               reg,
		identifier:        identifier,
		dispatcher:        dispatcher,
		store:             store,
		logger:            logger.WithComponent("orchestrator"),
		maxClarifications: MaxClarificationAttempts,
		historyWindow:     historyWindow,
		userMu:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lockFor(userID string) *sync.Mutex {
	o.usersMu.Lock()
	defer o.usersMu.Unlock()
	mu, ok := o.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		o.userMu[userID] = mu
	}
	return mu
}

// Handle runs the full pipeline for one user message. Calls for the same
// user are serialized in arrival order; different users proceed
// concurrently.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	mu := o.lockFor(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	userTurn := memory.Turn{Role: memory.RoleUser, Content: req.Message, Timestamp: time.Now()}
	if err := o.store.Append(ctx, req.UserID, userTurn); err != nil {
		return nil, fmt.Errorf("orchestrator: recording user turn: %w", err)
	}

	history, err := o.store.History(ctx, req.UserID, o.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading history: %w", err)
	}

	if strings.TrimSpace(req.Message) == "" {
		return o.clarify(ctx, req, history, []string{"Could you tell me a bit more about what you'd like help with?"}, nil)
	}

	clarificationStreak := consecutiveClarifications(history)

	identifyHistory := history
	if !req.IncludeHistory {
		identifyHistory = nil
	}

	var decision intent.Decision
	switch {
	case clarificationStreak >= o.maxClarifications:
		o.logger.Warn("livelock escape triggered", map[string]interface{}{"user_id": req.UserID, "streak": clarificationStreak})
		decision = intent.Decision{
			Outcome: intent.OutcomeRoute,
			Result: &intent.Result{
				AgentID:    GenericWrapperAgent,
				Confidence: 0.5,
				Reasoning:  "Query remains unclear after multiple clarification attempts.",
			},
		}
	case req.AgentID != "" && !req.AutoRoute && o.isKnownAgent(req.AgentID):
		decision = intent.Decision{
			Outcome: intent.OutcomeRoute,
			Result: &intent.Result{
				AgentID:    req.AgentID,
				Confidence: 1.0,
				Reasoning:  "explicit agent requested",
			},
		}
	default:
		// An explicit but unknown agent id lands here too: identification
		// is the fallback, not an error.
		d, err := o.identifier.Identify(ctx, intent.Request{
			UserMessage: req.Message,
			History:     identifyHistory,
			Catalog:     o.reg.List(),
			KnownParams: accumulatedParams(history),
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: identifying intent: %w", err)
		}
		decision = *d
	}

	result := decision.Result
	result.ExtractedParams = mergeParams(accumulatedParams(history), result.ExtractedParams)
	if decision.Outcome == intent.OutcomeClarify {
		questions := result.ClarifyingQuestions
		if len(questions) == 0 {
			questions = []string{"Could you clarify what you're looking for?"}
		}
		return o.clarify(ctx, req, history, questions, result)
	}

	agentID, usedFallback := o.selectHealthyAgent(result.AgentID, result.AlternativeAgents)
	if agentID == "" {
		return o.offlineResponse(ctx, req, history, result)
	}

	shaped := shape.Shape(agentID, req.Message, result.ExtractedParams)
	resp := o.dispatcher.Forward(ctx, agentID, req.Message, shaped)

	if resp.Error != nil && resp.Error.Code == apperr.CodeClarificationNeed {
		questions, intentInfo := clarificationFromDispatch(resp, result)
		return o.clarify(ctx, req, history, questions, result, withIntentInfo(intentInfo))
	}

	o.mergeMetadata(resp, result, len(history)+1, usedFallback, agentID)

	assistantTurn := memory.Turn{
		Role:      memory.RoleAssistant,
		Content:   resp.Response,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Metadata:  turnMetadata(false, result),
	}
	if err := o.store.Append(ctx, req.UserID, assistantTurn); err != nil {
		return nil, fmt.Errorf("orchestrator: recording assistant turn: %w", err)
	}

	return &Result{Response: resp}, nil
}

// turnMetadata builds the intent_info blob stored on an assistant turn:
// the clarification flag driving the livelock counter and the extracted
// parameters feeding later turns' accumulator.
func turnMetadata(clarification bool, result *intent.Result) map[string]interface{} {
	meta := map[string]interface{}{"clarification": clarification}
	if result != nil {
		if len(result.ExtractedParams) > 0 {
			meta["extracted_params"] = result.ExtractedParams
		}
		if result.AgentID != "" {
			meta["identified_agent"] = result.AgentID
		}
	}
	return meta
}

// selectHealthyAgent returns primary if it's registered and healthy,
// otherwise the first healthy entry in alternatives.
func (o *Orchestrator) selectHealthyAgent(primary string, alternatives []string) (agentID string, usedFallback bool) {
	if snap, ok := o.reg.Get(primary); ok && snap.Status == registry.StatusHealthy {
		return snap.ID, false
	}
	for _, alt := range alternatives {
		if snap, ok := o.reg.Get(alt); ok && snap.Status == registry.StatusHealthy {
			return snap.ID, true
		}
	}
	return "", false
}

// offlineResponse builds the chat-style "agent offline" reply returned
// instead of an HTTP error when neither the primary nor any alternative
// is healthy.
func (o *Orchestrator) offlineResponse(ctx context.Context, req Request, history []memory.Turn, result *intent.Result) (*Result, error) {
	msg := fmt.Sprintf("The %s is currently unavailable and no fallback agent could be reached. Please try again shortly.", result.AgentID)
	resp := &dispatch.Response{
		Response:  msg,
		AgentID:   result.AgentID,
		Timestamp: time.Now(),
		Error:     &dispatch.ErrorInfo{Code: apperr.CodeAgentOffline, Message: msg},
		Metadata: dispatch.ResponseMetadata{
			AgentTrace:          []string{},
			ParticipatingAgents: []string{},
		},
	}
	o.mergeMetadata(resp, result, len(history)+1, false, result.AgentID)

	assistantTurn := memory.Turn{
		Role:      memory.RoleAssistant,
		Content:   msg,
		Timestamp: time.Now(),
		Metadata:  turnMetadata(false, result),
	}
	if err := o.store.Append(ctx, req.UserID, assistantTurn); err != nil {
		return nil, fmt.Errorf("orchestrator: recording offline turn: %w", err)
	}
	return &Result{Response: resp}, nil
}

type clarifyOption func(*ClarificationEnvelope)

func withIntentInfo(info map[string]interface{}) clarifyOption {
	return func(e *ClarificationEnvelope) { e.IntentInfo = info }
}

// clarify builds the clarification envelope, appends it to memory as an
// assistant turn flagged for the consecutive-clarification counter, and
// returns it. result may be nil (e.g. the empty-query edge case).
func (o *Orchestrator) clarify(ctx context.Context, req Request, history []memory.Turn, questions []string, result *intent.Result, opts ...clarifyOption) (*Result, error) {
	count := consecutiveClarifications(history) + 1

	message := questions[0]
	if len(questions) > 1 {
		message = strings.Join(questions, " ")
	}

	env := &ClarificationEnvelope{
		Status:              "clarification_needed",
		Message:             message,
		ClarifyingQuestions: questions,
		ClarificationCount:  count,
		MaxClarifications:   o.maxClarifications,
	}
	if result != nil {
		env.IntentInfo = map[string]interface{}{
			"identified_agent": result.AgentID,
			"confidence":       result.Confidence,
			"reasoning":        result.Reasoning,
		}
	}
	for _, opt := range opts {
		opt(env)
	}

	assistantTurn := memory.Turn{
		Role:      memory.RoleAssistant,
		Content:   message,
		Timestamp: time.Now(),
		Metadata:  turnMetadata(true, result),
	}
	if err := o.store.Append(ctx, req.UserID, assistantTurn); err != nil {
		return nil, fmt.Errorf("orchestrator: recording clarification turn: %w", err)
	}

	return &Result{Clarification: env}, nil
}

// clarificationFromDispatch pulls the clarifying questions and intent_info
// out of a dispatcher response whose error.code is CLARIFICATION_NEEDED.
func clarificationFromDispatch(resp *dispatch.Response, result *intent.Result) ([]string, map[string]interface{}) {
	var details struct {
		ClarifyingQuestions []interface{} `json:"clarifying_questions"`
		Example             interface{}   `json:"example"`
		RequiredFormat      interface{}   `json:"required_format"`
	}
	if resp.Error != nil && resp.Error.Details != "" {
		_ = json.Unmarshal([]byte(resp.Error.Details), &details)
	}

	questions := make([]string, 0, len(details.ClarifyingQuestions))
	for _, q := range details.ClarifyingQuestions {
		if s, ok := q.(string); ok && s != "" {
			questions = append(questions, s)
		}
	}
	if len(questions) == 0 {
		if resp.Error != nil && resp.Error.Message != "" {
			questions = []string{resp.Error.Message}
		} else {
			questions = []string{"Could you provide a bit more detail?"}
		}
	}

	info := map[string]interface{}{
		"example":         details.Example,
		"required_format": details.RequiredFormat,
	}
	if result != nil {
		info["identified_agent"] = result.AgentID
		info["confidence"] = result.Confidence
	}
	return questions, info
}

// mergeMetadata folds the supervisor's own routing context into the
// dispatcher's response metadata.
func (o *Orchestrator) mergeMetadata(resp *dispatch.Response, result *intent.Result, conversationLength int, usedFallback bool, actualAgent string) {
	resp.Metadata.IdentifiedAgent = result.AgentID
	resp.Metadata.AgentName = actualAgent
	resp.Metadata.Confidence = result.Confidence
	resp.Metadata.Reasoning = result.Reasoning
	resp.Metadata.ExtractedParams = result.ExtractedParams
	resp.Metadata.ConversationLength = conversationLength
	if usedFallback {
		o.logger.Info("dispatched to fallback agent", map[string]interface{}{
			"identified_agent": result.AgentID, "actual_agent": actualAgent,
		})
	}
}

func (o *Orchestrator) isKnownAgent(id string) bool {
	_, ok := o.reg.Get(id)
	return ok
}

// accumulatedParams folds together the extracted_params recorded on every
// assistant turn so far, oldest first: a parameter extracted two turns ago
// stays usable, a re-extraction on a later turn overwrites it.
func accumulatedParams(history []memory.Turn) map[string]interface{} {
	out := make(map[string]interface{})
	for _, t := range history {
		if t.Role != memory.RoleAssistant {
			continue
		}
		params, ok := t.Metadata["extracted_params"].(map[string]interface{})
		if !ok {
			continue
		}
		for k, v := range params {
			out[k] = v
		}
	}
	return out
}

// mergeParams overlays current on top of base without mutating either.
func mergeParams(base, current map[string]interface{}) map[string]interface{} {
	if len(base) == 0 {
		return current
	}
	out := make(map[string]interface{}, len(base)+len(current))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range current {
		out[k] = v
	}
	return out
}

// consecutiveClarifications scans history from the most recent turn
// backward, counting consecutive assistant turns flagged as clarifications
// and stopping at the first assistant turn that wasn't one.
func consecutiveClarifications(history []memory.Turn) int {
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != memory.RoleAssistant {
			continue
		}
		flagged, _ := t.Metadata["clarification"].(bool)
		if !flagged {
			break
		}
		count++
	}
	return count
}
