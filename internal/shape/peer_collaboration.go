package shape

import "regexp"

// PeerCollaboration shapes requests for peer_collaboration_agent. Team
// members and discussion logs are normalized here on the supervisor side
// rather than left to the worker, so a payload built from a prior turn's
// already-normalized output shapes identically.
type PeerCollaboration struct{}

func (PeerCollaboration) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	projectID := strParam(params, "project_id")
	if projectID == "" {
		projectID = newUUID()
	}

	return map[string]interface{}{
		"agent_name": "peer_collaboration_agent",
		"intent":     "analyze_collaboration",
		"payload": map[string]interface{}{
			"project_id":      projectID,
			"team_members":    normalizeTeamMembers(params["team_members"]),
			"action":          strParamOr(params, "analyze", "action"),
			"discussion_logs": normalizeDiscussionLogs(params["discussion_logs"]),
		},
	}
}

// normalizeTeamMembers accepts a list already, a comma/semicolon/"and"
// separated string, or a list of {"name"|"user_id": ...} objects.
func normalizeTeamMembers(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		return splitCommaList(t)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch m := item.(type) {
			case string:
				if m != "" {
					out = append(out, m)
				}
			case map[string]interface{}:
				if name, ok := m["name"].(string); ok && name != "" {
					out = append(out, name)
				} else if id, ok := m["user_id"].(string); ok && id != "" {
					out = append(out, id)
				}
			}
		}
		return out
	}
	return []string{}
}

// discussionLogLine matches strings like "Alice (2025-11-29 10:00): message"
// or "- Alice (timestamp): message".
var discussionLogLine = regexp.MustCompile(`^-?\s*(\w+)\s*\(([^)]+)\):\s*["']?(.+?)["']?$`)

// normalizeDiscussionLogs turns whatever shape the intent identifier or a
// prior turn handed back into the canonical
// [{user_id, timestamp, message}] form. Feeding it its own output is the
// identity function: already-normalized maps round-trip through the
// same-key branch unchanged.
func normalizeDiscussionLogs(v interface{}) []map[string]interface{} {
	var items []interface{}
	switch t := v.(type) {
	case []interface{}:
		items = t
	case []map[string]interface{}:
		items = make([]interface{}, len(t))
		for i, m := range t {
			items[i] = m
		}
	default:
		return []map[string]interface{}{}
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case map[string]interface{}:
			out = append(out, map[string]interface{}{
				"user_id":   firstNonEmpty(t, "user_id", "name", "sender"),
				"timestamp": firstNonEmpty(t, "timestamp", "time"),
				"message":   firstNonEmpty(t, "message", "content", "text"),
			})
		case string:
			out = append(out, parseDiscussionLogLine(t))
		}
	}
	return out
}

func firstNonEmpty(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseDiscussionLogLine(line string) map[string]interface{} {
	if m := discussionLogLine.FindStringSubmatch(line); m != nil {
		return map[string]interface{}{
			"user_id":   m[1],
			"timestamp": m[2],
			"message":   m[3],
		}
	}
	return map[string]interface{}{
		"user_id":   "Unknown",
		"timestamp": "",
		"message":   line,
	}
}
