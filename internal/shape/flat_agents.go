package shape

// AssignmentCoach shapes requests for assignment_coach_agent: a flat
// payload built around the required task_description.
type AssignmentCoach struct{}

func (AssignmentCoach) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"request":          rawRequest,
		"task_description": strParam(params, "task_description"),
	}
	for _, k := range []string{"subject", "difficulty_level", "deadline"} {
		if v := strParam(params, k); v != "" {
			out[k] = v
		}
	}
	return out
}

// PlagiarismChecker shapes requests for plagiarism_prevention_agent: the
// required text_content plus check_type defaulted to "check".
type PlagiarismChecker struct{}

func (PlagiarismChecker) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"request":      rawRequest,
		"text_content": strParam(params, "text_content"),
		"check_type":   strParamOr(params, "check", "check_type"),
	}
	if v := strParam(params, "citation_style"); v != "" {
		out["citation_style"] = v
	}
	return out
}

// Generic is the pass-through shaper used by gemini_wrapper_agent and any
// unrecognized agent id: the user's request plus every extracted param
// merged in verbatim.
type Generic struct{}

func (Generic) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"request": rawRequest}
	for k, v := range params {
		out[k] = v
	}
	return out
}
