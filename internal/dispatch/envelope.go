// Package dispatch sends a shaped payload to a worker agent over HTTP and
// normalizes whatever comes back into a caller-facing Response, tolerating
// non-JSON bodies, retrying once on transport failure, and recording raw
// exchanges to the debug store.
package dispatch

import "time"

// TaskEnvelope is the outbound message to a worker's /process endpoint.
type TaskEnvelope struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	Task      Task      `json:"task"`
	Timestamp time.Time `json:"timestamp"`
}

// Task names the operation and carries its parameters: either the
// agent-native {agent_name, intent, payload} triple, or a merge of the raw
// request and the shaped fields.
type Task struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// CompletionReport is the inbound message from a worker's /process
// response.
type CompletionReport struct {
	MessageID        string                 `json:"message_id"`
	Sender           string                 `json:"sender"`
	Recipient        string                 `json:"recipient"`
	Type             string                 `json:"type"`
	RelatedMessageID string                 `json:"related_message_id"`
	Status           string                 `json:"status"`
	Results          map[string]interface{} `json:"results"`
	Timestamp        time.Time              `json:"timestamp"`
}

const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// ErrorInfo is the structured, in-band error surfaced to the caller; Code
// takes the apperr.Code* values.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMetadata carries both the worker's own reported metadata and
// (filled in later by the orchestrator) the supervisor's routing context.
type ResponseMetadata struct {
	ExecutionTimeMS      float64                `json:"executionTime_ms"`
	AgentTrace           []string               `json:"agentTrace"`
	ParticipatingAgents  []string               `json:"participatingAgents"`
	Cached               bool                   `json:"cached"`
	IdentifiedAgent      string                 `json:"identified_agent,omitempty"`
	AgentName            string                 `json:"agent_name,omitempty"`
	Confidence           float64                `json:"confidence,omitempty"`
	Reasoning            string                 `json:"reasoning,omitempty"`
	ExtractedParams      map[string]interface{} `json:"extracted_params,omitempty"`
	ConversationLength   int                    `json:"conversation_length,omitempty"`
}

// Response is the normalized reply handed back to the caller.
type Response struct {
	Response  string           `json:"response"`
	AgentID   string           `json:"agentId,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Error     *ErrorInfo       `json:"error,omitempty"`
	Metadata  ResponseMetadata `json:"metadata"`
}
