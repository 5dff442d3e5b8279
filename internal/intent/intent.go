// Package intent identifies which registered agent should handle a user
// message. An Oracle (normally an LLM call) proposes an agent id,
// confidence, extracted parameters, and, when it isn't sure, clarifying
// questions; the Identifier applies the system's confidence gates and
// falls back to keyword matching when the oracle is unavailable or rate
// limited. Gating policy lives in the Identifier, not in either oracle.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eduassist/supervisor/internal/memory"
	"github.com/eduassist/supervisor/internal/registry"
)

// GenericWrapperAgent is the catch-all worker every degraded or
// unresolvable classification routes to.
const GenericWrapperAgent = "gemini_wrapper_agent"

// Request bundles everything the oracle needs to classify one turn.
type Request struct {
	UserMessage string
	History     []memory.Turn
	Catalog     []registry.Snapshot
	// KnownParams carries parameters extracted on earlier turns of the
	// same conversation; they count toward an agent's required set, and
	// this turn's extraction overwrites them key by key.
	KnownParams map[string]interface{}
	// RateLimited is set by Identify on the fallback request when the
	// primary oracle failed specifically because it was rate limited,
	// so the fallback oracle can apply its boosted, gate-skipping
	// formula instead of the ordinary one.
	RateLimited bool
}

// Result is the oracle's classification. NeedsClarification is set
// whenever the oracle itself asked a clarifying question, independent of
// the confidence gate applied afterward.
type Result struct {
	AgentID             string
	Confidence          float64
	Reasoning           string
	ExtractedParams     map[string]interface{}
	NeedsClarification  bool
	ClarifyingQuestions []string
	AlternativeAgents   []string
	// BypassGate skips the Identifier's confidence gate entirely. Set
	// by the keyword oracle when it degraded under a known rate limit,
	// so the system never interrogates the user about an oracle outage.
	BypassGate bool
}

// Oracle is anything that can classify a user message against the agent
// catalog. Implemented by the LLM-backed GeminiClient and by the KeywordOracle
// fallback so the Identifier can treat both uniformly.
type Oracle interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}

// Outcome is what the Identifier hands back to the orchestrator after
// applying the confidence gate.
type Outcome string

const (
	OutcomeRoute    Outcome = "route"
	OutcomeClarify  Outcome = "clarify"
	OutcomeLowConf  Outcome = "low_confidence_route" // between the two thresholds
	OutcomeDegraded Outcome = "degraded"             // oracle failed, fell back to keywords
)

// Decision is the Identifier's final verdict for one turn.
type Decision struct {
	Outcome Outcome
	Result  *Result
}

// Identifier wraps an Oracle with the system's confidence gating policy:
// route at or above routeThreshold, force clarification below
// clarifyThreshold, and otherwise still route but flagged as low
// confidence so the orchestrator can log it.
type Identifier struct {
	primary          Oracle
	fallback         Oracle
	routeThreshold   float64
	clarifyThreshold float64
}

// New builds an Identifier. fallback may be nil, in which case a failed
// primary oracle call surfaces as an error rather than degrading.
func New(primary, fallback Oracle, routeThreshold, clarifyThreshold float64) *Identifier {
	return &Identifier{
		primary:          primary,
		fallback:         fallback,
		routeThreshold:   routeThreshold,
		clarifyThreshold: clarifyThreshold,
	}
}

// Identify classifies the request, degrading to the fallback oracle if the
// primary call fails, then applies the confidence gate. When the primary
// failure is specifically a rate limit, the fallback request is flagged
// so the keyword oracle can skip the gate entirely.
func (id *Identifier) Identify(ctx context.Context, req Request) (*Decision, error) {
	result, err := id.primary.Classify(ctx, req)
	degraded := false
	if err != nil {
		if id.fallback == nil {
			return nil, err
		}
		fallbackReq := req
		fallbackReq.RateLimited = errors.Is(err, ErrRateLimited)
		result, err = id.fallback.Classify(ctx, fallbackReq)
		if err != nil {
			return nil, err
		}
		degraded = true
	}

	if len(req.KnownParams) > 0 {
		merged := make(map[string]interface{}, len(req.KnownParams)+len(result.ExtractedParams))
		for k, v := range req.KnownParams {
			merged[k] = v
		}
		for k, v := range result.ExtractedParams {
			merged[k] = v
		}
		result.ExtractedParams = merged
	}

	if result.BypassGate {
		return &Decision{Outcome: OutcomeDegraded, Result: result}, nil
	}

	if result.NeedsClarification || len(result.ClarifyingQuestions) > 0 {
		return &Decision{Outcome: OutcomeClarify, Result: result}, nil
	}

	// A confident pick with a required parameter still missing is
	// ambiguous all the same: ask for the parameter instead of letting
	// the shaper invent a default for it.
	if missing := missingRequiredParams(result, req.Catalog); len(missing) > 0 {
		result.NeedsClarification = true
		result.ClarifyingQuestions = questionsForParams(missing)
		return &Decision{Outcome: OutcomeClarify, Result: result}, nil
	}

	switch {
	case result.Confidence < id.clarifyThreshold:
		return &Decision{Outcome: OutcomeClarify, Result: result}, nil
	case result.Confidence < id.routeThreshold:
		if degraded {
			return &Decision{Outcome: OutcomeDegraded, Result: result}, nil
		}
		return &Decision{Outcome: OutcomeLowConf, Result: result}, nil
	default:
		if degraded {
			return &Decision{Outcome: OutcomeDegraded, Result: result}, nil
		}
		return &Decision{Outcome: OutcomeRoute, Result: result}, nil
	}
}

// missingRequiredParams lists the chosen agent's required parameter names
// that ExtractedParams doesn't cover. An empty AgentID or a catalog miss
// yields nothing; those cases are handled by the gate and the parser's
// unknown-agent substitution respectively.
func missingRequiredParams(result *Result, catalog []registry.Snapshot) []string {
	if result.AgentID == "" {
		return nil
	}
	norm := registry.Normalize(result.AgentID)
	for _, agent := range catalog {
		if registry.Normalize(agent.ID) != norm {
			continue
		}
		var missing []string
		for _, param := range agent.RequiredParams {
			if v, ok := result.ExtractedParams[param]; !ok || v == nil || v == "" {
				missing = append(missing, param)
			}
		}
		return missing
	}
	return nil
}

// paramQuestions phrases the common required parameters as the concrete,
// user-facing questions the clarification contract calls for; anything
// unlisted gets a serviceable generic phrasing.
var paramQuestions = map[string]string{
	"topic":            "What topic should this cover?",
	"subject":          "What subject is this for?",
	"task_description": "Could you describe the assignment or task you need help with?",
	"text_content":     "Please paste the text you'd like me to check.",
	"transcript":       "Please share the presentation transcript you'd like feedback on.",
	"team_members":     "Who is on the team? List the members, separated by commas.",
	"discussion_logs":  "Could you share the discussion messages you'd like analyzed?",
	"assessment_type":  "Should this be a quiz, an exam, or an assignment?",
	"difficulty":       "What difficulty would you like: easy, medium, or hard?",
	"question_count":   "How many questions should it have?",
}

func questionsForParams(missing []string) []string {
	out := make([]string, 0, len(missing))
	for _, param := range missing {
		if q, ok := paramQuestions[param]; ok {
			out = append(out, q)
			continue
		}
		out = append(out, fmt.Sprintf("Could you provide the %s?", strings.ReplaceAll(param, "_", " ")))
	}
	return out
}
