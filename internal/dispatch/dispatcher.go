package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduassist/supervisor/internal/apperr"
	"github.com/eduassist/supervisor/internal/debugstore"
	"github.com/eduassist/supervisor/internal/obslog"
	"github.com/eduassist/supervisor/internal/registry"
	"github.com/eduassist/supervisor/internal/resilience"
)

const defaultWorkerTimeout = 60 * time.Second

// Prober is the subset of *health.Prober the dispatcher needs: an
// on-demand re-probe right before forwarding when the cached status isn't
// healthy.
type Prober interface {
	Probe(ctx context.Context, agentID string) bool
}

// Dispatcher forwards shaped payloads to worker agents and normalizes
// their replies. One CircuitBreaker per agent sits beside the cached-health
// view: an open breaker, like a non-healthy cached status, triggers an
// on-demand re-probe, and the dispatch proceeds only if that probe
// succeeds.
type Dispatcher struct {
	reg    *registry.Registry
	prober Prober
	debug  *debugstore.Store
	logger obslog.Logger
	client *http.Client
	retry  *resilience.RetryConfig

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New builds a Dispatcher.
func New(reg *registry.Registry, prober Prober, debug *debugstore.Store, logger obslog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		prober:   prober,
		debug:    debug,
		logger:   logger.WithComponent("dispatch"),
		client:   &http.Client{Timeout: defaultWorkerTimeout},
		retry:    resilience.DefaultRetryConfig(),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (d *Dispatcher) breakerFor(agentID string) *resilience.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	cb, ok := d.breakers[agentID]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(agentID))
		d.breakers[agentID] = cb
	}
	return cb
}

func errorResponse(agentID, code, message string) *Response {
	return &Response{
		Response:  message,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Error:     &ErrorInfo{Code: code, Message: message},
		Metadata:  ResponseMetadata{AgentTrace: []string{}, ParticipatingAgents: []string{}},
	}
}

// Forward sends shaped (the payload shaper's output) to agentID, returning
// a normalized Response. rawRequest is merged in when shaped isn't already
// the agent-native {agent_name, intent, payload} triple, so the worker can
// always fall back to free-text parsing.
func (d *Dispatcher) Forward(ctx context.Context, agentID, rawRequest string, shaped map[string]interface{}) *Response {
	snap, ok := d.reg.Get(agentID)
	if !ok {
		msg := fmt.Sprintf("agent %s not found in registry", agentID)
		d.logger.Warn("agent not found", map[string]interface{}{"agent_id": agentID})
		return errorResponse(agentID, apperr.CodeAgentNotFound, msg)
	}
	canonicalID := snap.ID

	cb := d.breakerFor(canonicalID)
	if snap.Status != registry.StatusHealthy || !cb.CanExecute() {
		healthy := d.prober.Probe(ctx, canonicalID)
		if !healthy {
			msg := fmt.Sprintf("agent %s is currently offline and cannot process requests", canonicalID)
			d.logger.Warn("agent unavailable after re-probe", map[string]interface{}{"agent_id": canonicalID})
			return errorResponse(canonicalID, apperr.CodeAgentUnavailable, msg)
		}
		snap, _ = d.reg.Get(canonicalID)
	}

	params := taskParameters(rawRequest, shaped)
	envelope := TaskEnvelope{
		MessageID: uuid.NewString(),
		Sender:    "supervisor",
		Recipient: canonicalID,
		Type:      "task_assignment",
		Task:      Task{Name: "process_request", Parameters: params},
		Timestamp: time.Now(),
	}

	endpoint := "/process"
	if snap.CustomEndpoint != "" {
		endpoint = snap.CustomEndpoint
	}
	timeout := d.client.Timeout
	if snap.CustomTimeout != "" {
		if parsed, err := time.ParseDuration(snap.CustomTimeout); err == nil {
			timeout = parsed
		}
	}

	start := time.Now()
	report, transportErr := d.postWithRetry(ctx, canonicalID, snap.URL+endpoint, timeout, envelope)
	elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0

	if transportErr != nil {
		d.reg.SetStatus(canonicalID, registry.StatusOffline)
		cb.RecordFailure()
		msg := fmt.Sprintf("failed to communicate with agent %s. Please try again later.", canonicalID)
		d.logger.Error("dispatch communication failure", map[string]interface{}{"agent_id": canonicalID, "error": transportErr.Error()})
		resp := errorResponse(canonicalID, apperr.CodeCommunicationError, msg)
		resp.Error.Details = transportErr.Error()
		return resp
	}
	cb.RecordSuccess()

	if report.RelatedMessageID != "" && report.RelatedMessageID != envelope.MessageID {
		d.logger.Warn("completion report related_message_id mismatch", map[string]interface{}{
			"agent_id": canonicalID, "expected": envelope.MessageID, "got": report.RelatedMessageID,
		})
	}

	return d.normalize(canonicalID, report, elapsedMS)
}

// taskParameters decides between the agent-native triple and a merged
// request+shaped map.
func taskParameters(rawRequest string, shaped map[string]interface{}) map[string]interface{} {
	if isAgentNativeTriple(shaped) {
		params := make(map[string]interface{}, len(shaped)+1)
		for k, v := range shaped {
			params[k] = v
		}
		params["original_request"] = rawRequest
		return params
	}

	params := map[string]interface{}{"request": rawRequest}
	for k, v := range shaped {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}
	return params
}

func isAgentNativeTriple(shaped map[string]interface{}) bool {
	_, hasName := shaped["agent_name"]
	_, hasIntent := shaped["intent"]
	_, hasPayload := shaped["payload"]
	return hasName && hasIntent && hasPayload
}

// postWithRetry POSTs the envelope, retrying exactly once on a transport
// or 5xx failure. A worker-reported FAILURE report is never retried; only
// not getting a usable response counts.
func (d *Dispatcher) postWithRetry(ctx context.Context, agentID, url string, timeout time.Duration, envelope TaskEnvelope) (*CompletionReport, error) {
	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		report, err := d.postOnce(ctx, agentID, url, timeout, envelope)
		if err == nil {
			return report, nil
		}
		lastErr = err
		d.logger.Info("dispatch attempt failed", map[string]interface{}{"agent_id": agentID, "attempt": attempt, "error": err.Error()})

		if attempt == d.retry.MaxAttempts {
			break
		}
		timer := time.NewTimer(d.retry.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("dispatch: all attempts to %s failed: %w", agentID, lastErr)
}

func (d *Dispatcher) postOnce(ctx context.Context, agentID, url string, timeout time.Duration, envelope TaskEnvelope) (*CompletionReport, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var report CompletionReport
	if jsonErr := json.Unmarshal(raw, &report); jsonErr != nil {
		d.debug.Put(debugstore.Entry{
			AgentID:    agentID,
			RawText:    string(raw),
			StatusCode: resp.StatusCode,
			Context:    debugstore.ContextNonJSON,
		})
		status := StatusFailure
		if resp.StatusCode == http.StatusOK {
			status = StatusSuccess
		}
		return &CompletionReport{
			Status:  status,
			Results: map[string]interface{}{"output": string(raw)},
		}, nil
	}

	if !isValidCompletionReport(raw) {
		var asObj map[string]interface{}
		_ = json.Unmarshal(raw, &asObj)
		d.debug.Put(debugstore.Entry{
			AgentID:    agentID,
			RawJSON:    asObj,
			StatusCode: resp.StatusCode,
			Context:    debugstore.ContextValidationError,
		})
		return repairCompletionReport(asObj, resp.StatusCode), nil
	}

	return &report, nil
}

// isValidCompletionReport requires the minimum a CompletionReport must
// carry to be trusted as-is: a status the Orchestrator can branch on.
func isValidCompletionReport(raw []byte) bool {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Status == StatusSuccess || probe.Status == StatusFailure
}

// repairCompletionReport builds a best-effort CompletionReport out of
// whatever fields a malformed worker body actually supplied.
func repairCompletionReport(obj map[string]interface{}, statusCode int) *CompletionReport {
	status, _ := obj["status"].(string)
	if status != StatusSuccess && status != StatusFailure {
		if statusCode == http.StatusOK {
			status = StatusSuccess
		} else {
			status = StatusFailure
		}
	}

	results, ok := obj["results"].(map[string]interface{})
	if !ok {
		results = obj
	}

	return &CompletionReport{
		MessageID:        stringOr(obj, "message_id", uuid.NewString()),
		Sender:           stringOr(obj, "sender", ""),
		Recipient:        stringOr(obj, "recipient", "supervisor"),
		RelatedMessageID: stringOr(obj, "related_message_id", ""),
		Status:           status,
		Results:          results,
	}
}

func stringOr(obj map[string]interface{}, key, def string) string {
	if v, ok := obj[key].(string); ok && v != "" {
		return v
	}
	return def
}

// normalize converts a worker's CompletionReport into the caller-facing
// Response.
func (d *Dispatcher) normalize(agentID string, report *CompletionReport, elapsedMS float64) *Response {
	trace := []string{agentID}

	if report.Status == StatusSuccess {
		results := report.Results
		text := outputText(results)

		if papers, ok := results["papers"].([]interface{}); ok && len(papers) > 0 {
			text += "\n\n" + renderPapers(papers)
		}
		if strings.TrimSpace(text) == "" {
			text = "The agent completed the request but returned no output."
		}

		cached, _ := results["cached"].(bool)
		return &Response{
			Response:  text,
			AgentID:   agentID,
			Timestamp: time.Now(),
			Metadata: ResponseMetadata{
				ExecutionTimeMS:     elapsedMS,
				AgentTrace:          trace,
				ParticipatingAgents: trace,
				Cached:              cached,
			},
		}
	}

	if clarificationNeeded(report.Results) {
		return d.clarificationResponse(agentID, report.Results, elapsedMS)
	}

	errMsg := "agent failed to process the request."
	if m, ok := report.Results["error"].(string); ok && m != "" {
		errMsg = m
	}
	resp := errorResponse(agentID, apperr.CodeAgentExecution, errMsg)
	resp.Metadata.ExecutionTimeMS = elapsedMS
	resp.Metadata.AgentTrace = trace
	resp.Metadata.ParticipatingAgents = trace
	return resp
}

func clarificationNeeded(results map[string]interface{}) bool {
	v, _ := results["clarification_needed"].(bool)
	return v
}

func (d *Dispatcher) clarificationResponse(agentID string, results map[string]interface{}, elapsedMS float64) *Response {
	msg, _ := results["message"].(string)
	if msg == "" {
		msg = "I need more information to proceed."
	}

	details, err := json.Marshal(map[string]interface{}{
		"clarifying_questions": results["clarifying_questions"],
		"example":              results["example"],
		"required_format":      results["required_format"],
	})
	if err != nil {
		details = []byte("{}")
	}

	trace := []string{agentID}
	return &Response{
		Response:  msg,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Error:     &ErrorInfo{Code: apperr.CodeClarificationNeed, Message: msg, Details: string(details)},
		Metadata: ResponseMetadata{
			ExecutionTimeMS:     elapsedMS,
			AgentTrace:          trace,
			ParticipatingAgents: trace,
		},
	}
}

// outputText extracts results.output or results.summary, stringifying via
// JSON if the value is structured rather than a bare string.
func outputText(results map[string]interface{}) string {
	var candidate interface{}
	if v, ok := results["output"]; ok {
		candidate = v
	} else if v, ok := results["summary"]; ok {
		candidate = v
	}

	if candidate == nil {
		data, err := json.Marshal(results)
		if err != nil {
			return fmt.Sprintf("%v", results)
		}
		return string(data)
	}
	if s, ok := candidate.(string); ok {
		return s
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Sprintf("%v", candidate)
	}
	return string(data)
}

// renderPapers builds the human-readable paper list appended to the
// research agent's response text: one "title — authors (year) [source] —
// link" line per paper plus bulleted key points.
func renderPapers(papers []interface{}) string {
	var b strings.Builder
	b.WriteString("Papers:")
	for _, p := range papers {
		paper, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		meta := stringOr(paper, "title", "Untitled")
		if authors, ok := paper["authors"].(string); ok && authors != "" {
			meta += " — " + authors
		}
		if year, ok := paper["year"]; ok && year != nil {
			meta += fmt.Sprintf(" (%v)", year)
		}
		if source, ok := paper["source"].(string); ok && source != "" {
			meta += " [" + source + "]"
		}
		if link, ok := paper["link"].(string); ok && link != "" {
			meta += " — " + link
		}
		b.WriteString("\n- " + meta)

		keyPoints := firstList(paper, "key_points", "keyPoints", "keypoints")
		for _, kp := range keyPoints {
			b.WriteString(fmt.Sprintf("\n    • %v", kp))
		}
	}
	return b.String()
}

func firstList(m map[string]interface{}, keys ...string) []interface{} {
	for _, k := range keys {
		if v, ok := m[k].([]interface{}); ok {
			return v
		}
	}
	return nil
}
