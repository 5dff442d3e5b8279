package intent

import (
	"context"
	"sort"
	"strings"
)

// KeywordOracle is the degraded-mode classifier used when the LLM oracle
// is unreachable or rate limited. It scores each catalog agent by how
// many of its registered keywords appear in the user's message and picks
// the highest scorer, at confidence min(0.7, 0.2*hits); when the caller
// already knows the primary oracle is rate limited rather than merely
// absent, the formula boosts to min(0.85, 0.3*hits) and the gate is
// bypassed, so an oracle outage never turns into a user interrogation.
type KeywordOracle struct{}

// NewKeywordOracle builds the fallback classifier.
func NewKeywordOracle() *KeywordOracle {
	return &KeywordOracle{}
}

// Classify never returns an error. With no keyword match at all it routes
// to the generic wrapper agent at low confidence rather than leaving
// AgentID empty.
func (k *KeywordOracle) Classify(ctx context.Context, req Request) (*Result, error) {
	message := strings.ToLower(req.UserMessage)

	bestID := ""
	bestScore := 0
	scored := make(map[string]int, len(req.Catalog))

	for _, agent := range req.Catalog {
		score := 0
		for _, kw := range agent.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(message, strings.ToLower(kw)) {
				score++
			}
		}
		if score > 0 {
			scored[agent.ID] = score
		}
		if score > bestScore {
			bestScore = score
			bestID = agent.ID
		}
	}

	if bestScore == 0 {
		confidence, reasoning := 0.3, "No specific agent matched, using general LLM"
		if req.RateLimited {
			confidence, reasoning = 0.6, "Routing to general assistant (LLM unavailable)"
		}
		return &Result{
			AgentID:    GenericWrapperAgent,
			Confidence: confidence,
			Reasoning:  reasoning,
			BypassGate: req.RateLimited,
		}, nil
	}

	confidence, reasoning := 0.2*float64(bestScore), "Fallback keyword matching used"
	if confidence > 0.7 {
		confidence = 0.7
	}
	if req.RateLimited {
		confidence = 0.3 * float64(bestScore)
		if confidence > 0.85 {
			confidence = 0.85
		}
		reasoning = "Keyword matching used (LLM unavailable)"
	}

	return &Result{
		AgentID:           bestID,
		Confidence:        confidence,
		Reasoning:         reasoning,
		AlternativeAgents: runnersUp(scored, bestID),
		BypassGate:        req.RateLimited,
	}, nil
}

// runnersUp orders every other scoring agent by descending score, for the
// Orchestrator's offline-fallback scan.
func runnersUp(scored map[string]int, best string) []string {
	type pair struct {
		id    string
		score int
	}
	pairs := make([]pair, 0, len(scored))
	for id, score := range scored {
		if id == best {
			continue
		}
		pairs = append(pairs, pair{id, score})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

var _ Oracle = (*KeywordOracle)(nil)
