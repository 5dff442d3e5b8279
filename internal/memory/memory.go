// Package memory is the per-user conversation history the orchestrator
// consults when shaping payloads and the intent identifier consults when
// resolving a follow-up turn: a top-level map guarded by its own mutex
// holding per-user logs that each carry their own mutex, so one user's
// append never blocks another's read.
package memory

import (
	"context"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange recorded against a user's history.
type Turn struct {
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the structured digest the Summary operation returns: how
// many turns have been exchanged, the span they cover, and which agents
// actually participated.
type Summary struct {
	Count          int       `json:"count"`
	FirstTimestamp time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp  time.Time `json:"last_timestamp,omitempty"`
	DistinctAgents []string  `json:"distinct_agents"`
}

// Store is the conversation memory contract. Implementations must
// serialize appends per user (no torn reads) and return History results
// in chronological order, oldest first, bounded to the requested count.
type Store interface {
	Append(ctx context.Context, userID string, turn Turn) error
	History(ctx context.Context, userID string, limit int) ([]Turn, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	Clear(ctx context.Context, userID string) error
}

// summarize builds a Summary from a chronologically ordered turn slice,
// shared by every Store implementation so they agree on what "distinct
// agents involved" means.
func summarize(turns []Turn) Summary {
	if len(turns) == 0 {
		return Summary{DistinctAgents: []string{}}
	}

	seen := make(map[string]bool, len(turns))
	agents := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.AgentID == "" || seen[t.AgentID] {
			continue
		}
		seen[t.AgentID] = true
		agents = append(agents, t.AgentID)
	}

	return Summary{
		Count:          len(turns),
		FirstTimestamp: turns[0].Timestamp,
		LastTimestamp:  turns[len(turns)-1].Timestamp,
		DistinctAgents: agents,
	}
}
