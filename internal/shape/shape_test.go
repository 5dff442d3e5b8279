package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuizMasterShapesNestedPayload(t *testing.T) {
	out := Shape("adaptive_quiz_master_agent", "Create a 10-question Python quiz at intermediate difficulty", map[string]interface{}{
		"topic":         "Python",
		"num_questions": float64(10),
		"difficulty":    "medium",
	})

	payload, ok := out["payload"].(map[string]interface{})
	require.True(t, ok)
	quizReq, ok := payload["quiz_request"].(map[string]interface{})
	require.True(t, ok)

	assert.Equal(t, "Python", quizReq["topic"])
	assert.Equal(t, 10, quizReq["num_questions"])
	assert.Equal(t, "apply", quizReq["bloom_taxonomy_level"])

	session, ok := payload["session_info"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, session["session_id"])
}

func TestQuizMasterDefaultsTopicWhenMissing(t *testing.T) {
	out := Shape("adaptive_quiz_master_agent", "give me a quiz", nil)
	payload := out["payload"].(map[string]interface{})
	quizReq := payload["quiz_request"].(map[string]interface{})
	assert.Equal(t, "Python Loops", quizReq["topic"])
}

func TestQuizMasterSessionIDIsFreshPerCall(t *testing.T) {
	a := Shape("adaptive_quiz_master_agent", "quiz me", nil)
	b := Shape("adaptive_quiz_master_agent", "quiz me", nil)
	sa := a["payload"].(map[string]interface{})["session_info"].(map[string]interface{})["session_id"]
	sb := b["payload"].(map[string]interface{})["session_info"].(map[string]interface{})["session_id"]
	assert.NotEqual(t, sa, sb)
}

func TestResearchScoutYearRangeShapes(t *testing.T) {
	cases := []map[string]interface{}{
		{"year_range": map[string]interface{}{"from": "2020", "to": "2023"}},
		{"year_range": map[string]interface{}{"from_year": "2020", "to_year": "2023"}},
		{"year_range": map[string]interface{}{"start_year": "2020", "end_year": "2023"}},
		{"year_range": "2020-2023"},
		{"year_range": "2020 to 2023"},
	}
	for _, params := range cases {
		out := Shape("research_scout_agent", "find papers on blockchain", params)
		data := out["data"].(map[string]interface{})
		yr := data["year_range"].(map[string]string)
		assert.Equal(t, "2020", yr["from"])
		assert.Equal(t, "2023", yr["to"])
	}
}

func TestResearchScoutDefaults(t *testing.T) {
	out := Shape("research_scout_agent", "find papers on blockchain", map[string]interface{}{
		"topic":       "blockchain",
		"max_results": float64(10),
	})
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "blockchain", data["topic"])
	assert.Equal(t, 10, data["max_results"])
	assert.Equal(t, []string{}, data["keywords"])
	_, hasYear := data["year_range"]
	assert.False(t, hasYear)
}

func TestGenericPassesThroughExtraParams(t *testing.T) {
	out := Shape("gemini_wrapper_agent", "what is recursion", map[string]interface{}{"modelOverride": "flash"})
	assert.Equal(t, "what is recursion", out["request"])
	assert.Equal(t, "flash", out["modelOverride"])
}

func TestUnknownAgentFallsBackToGeneric(t *testing.T) {
	out := Shape("no_such_agent", "hello", map[string]interface{}{"x": 1})
	assert.Equal(t, "hello", out["request"])
	assert.Equal(t, 1, out["x"])
}

func TestDiscussionLogNormalizationIsIdempotent(t *testing.T) {
	raw := []interface{}{
		"Alice (2025-11-29 10:00): got it",
		map[string]interface{}{"user_id": "Bob", "timestamp": "10:05", "message": "me too"},
		"just a stray message with no prefix",
	}

	once := normalizeDiscussionLogs(raw)
	asInterfaces := make([]interface{}, len(once))
	for i, m := range once {
		asInterfaces[i] = m
	}
	twice := normalizeDiscussionLogs(asInterfaces)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i], twice[i])
	}
	assert.Equal(t, "Alice", once[0]["user_id"])
	assert.Equal(t, "got it", once[0]["message"])
	assert.Equal(t, "Unknown", once[2]["user_id"])
}

func TestPeerCollaborationTeamMembersSplitsCommaString(t *testing.T) {
	out := Shape("peer_collaboration_agent", "analyze our group", map[string]interface{}{
		"team_members": "Alice, Bob and Carol",
	})
	payload := out["payload"].(map[string]interface{})
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, payload["team_members"])
}

func TestExamReadinessMapsAlternateDifficultyNames(t *testing.T) {
	out := Shape("exam_readiness_agent", "mock exam", map[string]interface{}{
		"subject":    "math",
		"difficulty": "advanced",
	})
	assert.Equal(t, "hard", out["difficulty"])
}

func TestExamReadinessDefaultTypeCounts(t *testing.T) {
	out := Shape("exam_readiness_agent", "mock exam", map[string]interface{}{
		"question_count": float64(8),
	})
	tc := out["type_counts"].(map[string]interface{})
	assert.Equal(t, 8, tc["mcq"])
}

func TestShapingIsDeterministicAcrossNonUUIDFields(t *testing.T) {
	params := map[string]interface{}{"topic": "loops", "difficulty": "easy"}
	a := Shape("adaptive_quiz_master_agent", "quiz me", params)
	b := Shape("adaptive_quiz_master_agent", "quiz me", params)

	qa := a["payload"].(map[string]interface{})["quiz_request"].(map[string]interface{})
	qb := b["payload"].(map[string]interface{})["quiz_request"].(map[string]interface{})
	assert.Equal(t, qa["topic"], qb["topic"])
	assert.Equal(t, qa["bloom_taxonomy_level"], qb["bloom_taxonomy_level"])
}
