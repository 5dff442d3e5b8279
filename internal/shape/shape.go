// Package shape turns (agent id, raw user request, extracted params) into
// the exact JSON body a worker agent expects: one Shaper implementation
// per known agent plus a Generic fallback, so adding an eleventh agent
// means adding a type, not editing a dispatch function.
package shape

import (
	"strings"

	"github.com/google/uuid"
)

// Shaper produces the JSON-able payload for one agent from the raw user
// text and whatever the intent identifier extracted. Implementations are
// pure and deterministic, with intentional exceptions: fields that must
// be a fresh uuid per call, like the quiz session id, are minted at shape
// time, and the daily revision proctor's synthesized activity_log entry
// carries today's date.
type Shaper interface {
	Shape(rawRequest string, params map[string]interface{}) map[string]interface{}
}

// registry maps canonical agent ids to their Shaper. Unknown ids fall
// through to Generic in ForAgent.
var registry = map[string]Shaper{
	"adaptive_quiz_master_agent":   QuizMaster{},
	"research_scout_agent":         ResearchScout{},
	"assignment_coach_agent":       AssignmentCoach{},
	"plagiarism_prevention_agent":  PlagiarismChecker{},
	"gemini_wrapper_agent":         Generic{},
	"concept_reinforcement_agent":  ConceptReinforcement{},
	"presentation_feedback_agent":  PresentationFeedback{},
	"daily_revision_proctor_agent": DailyRevisionProctor{},
	"peer_collaboration_agent":     PeerCollaboration{},
	"exam_readiness_agent":         ExamReadiness{},
}

// ForAgent resolves the Shaper for a canonical agent id, defaulting to the
// pass-through Generic shaper for anything unrecognized.
func ForAgent(agentID string) Shaper {
	if s, ok := registry[agentID]; ok {
		return s
	}
	return Generic{}
}

// Shape is the package-level convenience entry point used by the
// orchestrator: resolve the agent's shaper and run it.
func Shape(agentID, rawRequest string, params map[string]interface{}) map[string]interface{} {
	return ForAgent(agentID).Shape(rawRequest, params)
}

// --- shared helpers -------------------------------------------------------

func strParam(params map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func intParam(params map[string]interface{}, def int, keys ...string) int {
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case int:
			return t
		case int64:
			return int(t)
		case float64:
			return int(t)
		case string:
			if t == "" {
				continue
			}
			n := 0
			for _, r := range t {
				if r < '0' || r > '9' {
					return def
				}
				n = n*10 + int(r-'0')
			}
			return n
		}
	}
	return def
}

func floatParam(params map[string]interface{}, def float64, keys ...string) float64 {
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		}
	}
	return def
}

func boolParam(params map[string]interface{}, def bool, key string) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// stringList coerces a param that may arrive as a []interface{}, a single
// string, or absent into a []string.
func stringList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func newUUID() string { return uuid.NewString() }

// splitCommaList splits "Alice, Bob and Carol"-style strings into trimmed
// parts, tolerating comma, semicolon, or the word "and" as a separator.
func splitCommaList(s string) []string {
	replacer := strings.NewReplacer(";", ",", " and ", ",")
	parts := strings.Split(replacer.Replace(s), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
