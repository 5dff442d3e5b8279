package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eduassist/supervisor/internal/registry"
)

// rawResult mirrors the JSON contract asked for in buildContractSection,
// tolerant of the oracle returning clarifying_questions as either a list
// of strings or a list of {"question": "..."} objects; LLMs are
// inconsistent about this even when told the exact schema.
type rawResult struct {
	AgentID             string                 `json:"agent_id"`
	Confidence          float64                `json:"confidence"`
	Reasoning           string                 `json:"reasoning"`
	ExtractedParams     map[string]interface{} `json:"extracted_params"`
	ClarifyingQuestions json.RawMessage        `json:"clarifying_questions"`
	AlternativeAgents   []string               `json:"alternative_agents"`
}

// parseOracleResponse strips markdown code fences some models wrap JSON in
// despite being told not to, decodes the contract, and normalizes the
// clarifying-questions field regardless of which shape it arrived in.
// catalog validates raw.AgentID against the known registry ids (and their
// aliases); an empty catalog skips that check entirely, since a caller
// with no catalog to validate against has no way to tell "unknown" from
// "not yet checked".
func parseOracleResponse(text string, catalog []registry.Snapshot) (*Result, error) {
	cleaned := stripMarkdownFence(text)

	var raw rawResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("intent: decoding oracle response: %w", err)
	}

	questions, err := normalizeClarifyingQuestions(raw.ClarifyingQuestions)
	if err != nil {
		return nil, fmt.Errorf("intent: decoding clarifying_questions: %w", err)
	}

	agentID, confidence, reasoning := raw.AgentID, raw.Confidence, raw.Reasoning
	if resolved, known := resolveKnownAgent(raw.AgentID, catalog); known {
		agentID = resolved
	} else {
		// Unknown agent_id after alias normalization: substitute the
		// generic wrapper at a fixed confidence rather than letting an
		// unroutable id reach the orchestrator.
		agentID = GenericWrapperAgent
		confidence = 0.5
		reasoning = fmt.Sprintf("oracle returned unknown agent_id %q, routing to general assistant", raw.AgentID)
	}

	return &Result{
		AgentID:             agentID,
		Confidence:          confidence,
		Reasoning:           reasoning,
		ExtractedParams:     raw.ExtractedParams,
		NeedsClarification:  len(questions) > 0,
		ClarifyingQuestions: questions,
		AlternativeAgents:   raw.AlternativeAgents,
	}, nil
}

// resolveKnownAgent reports whether agentID (or one of its aliases)
// names a catalog entry, returning the canonical id to use. An empty
// agentID is treated as "known" (vacuously): it's the oracle
// deliberately withholding a choice pending clarification, not an
// unresolvable id, and substituting it would mask a legitimate
// clarification request. An empty catalog is likewise treated as
// "known" since there is nothing to validate against.
func resolveKnownAgent(agentID string, catalog []registry.Snapshot) (string, bool) {
	if agentID == "" || len(catalog) == 0 {
		return agentID, true
	}

	norm := registry.Normalize(agentID)
	for _, agent := range catalog {
		if registry.Normalize(agent.ID) == norm {
			return agent.ID, true
		}
		for _, alias := range agent.Aliases {
			if registry.Normalize(alias) == norm {
				return agent.ID, true
			}
		}
	}
	return "", false
}

func stripMarkdownFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.Index(t, "\n"); i >= 0 {
		first := strings.TrimSpace(t[:i])
		if first == "json" || first == "" {
			t = t[i+1:]
		}
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func normalizeClarifyingQuestions(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		return filterEmpty(asStrings), nil
	}

	var asObjects []map[string]interface{}
	if err := json.Unmarshal(raw, &asObjects); err == nil {
		out := make([]string, 0, len(asObjects))
		for _, obj := range asObjects {
			for _, key := range []string{"question", "text", "prompt"} {
				if v, ok := obj[key].(string); ok && v != "" {
					out = append(out, v)
					break
				}
			}
		}
		return filterEmpty(out), nil
	}

	return nil, fmt.Errorf("unrecognized clarifying_questions shape")
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
