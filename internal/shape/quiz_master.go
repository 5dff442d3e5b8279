package shape

import "strings"

// bloomByDifficulty maps user-facing difficulty vocabulary to the quiz
// agent's Bloom taxonomy level. "intermediate" lands on "apply", level
// with "medium", so the two names a user treats as synonyms shape
// identically.
var bloomByDifficulty = map[string]string{
	"beginner":     "remember",
	"easy":         "remember",
	"intermediate": "apply",
	"medium":       "apply",
	"advanced":     "analyze",
	"hard":         "evaluate",
	"expert":       "create",
}

// QuizMaster shapes requests for adaptive_quiz_master_agent: a nested
// agent_name/intent/payload envelope carrying user_info, quiz_request, and
// a fresh session id per call.
type QuizMaster struct{}

func (QuizMaster) Shape(rawRequest string, params map[string]interface{}) map[string]interface{} {
	difficulty := strings.ToLower(strParam(params, "difficulty"))
	if difficulty == "" {
		difficulty = "intermediate"
	}
	bloom, ok := bloomByDifficulty[difficulty]
	if !ok {
		bloom = "understand"
	}

	// "Python Loops" exists in the quiz agent's question bank, so an
	// unspecified topic still yields a working quiz. The intent
	// identifier's required-parameter gate asks for a topic before
	// routing here, so this covers the paths that skip that gate:
	// explicit-agent requests and the rate-limited keyword fallback.
	topic := strParam(params, "topic", "subject")
	if topic == "" {
		topic = "Python Loops"
	}

	return map[string]interface{}{
		"agent_name": "adaptive_quiz_master_agent",
		"intent":     "generate_adaptive_quiz",
		"payload": map[string]interface{}{
			"user_info": map[string]interface{}{
				"user_id":        strParamOr(params, "default_user", "user_id"),
				"learning_level": difficulty,
			},
			"quiz_request": map[string]interface{}{
				"topic":                topic,
				"num_questions":        intParam(params, 5, "num_questions"),
				"question_types":       []string{"mcq", "true_false"},
				"bloom_taxonomy_level": bloom,
				"adaptive":             true,
			},
			"session_info": map[string]interface{}{
				"session_id": newUUID(),
			},
		},
	}
}

func strParamOr(params map[string]interface{}, def string, keys ...string) string {
	if v := strParam(params, keys...); v != "" {
		return v
	}
	return def
}
