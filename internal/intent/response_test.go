package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOracleResponsePlainJSON(t *testing.T) {
	raw := `{"agent_id":"adaptive_quiz_master_agent","confidence":0.91,"reasoning":"quiz request","extracted_params":{"topic":"photosynthesis"},"clarifying_questions":[]}`

	r, err := parseOracleResponse(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "adaptive_quiz_master_agent", r.AgentID)
	assert.InDelta(t, 0.91, r.Confidence, 0.0001)
	assert.Equal(t, "photosynthesis", r.ExtractedParams["topic"])
	assert.False(t, r.NeedsClarification)
}

func TestParseOracleResponseStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"agent_id\":\"research_scout_agent\",\"confidence\":0.8,\"reasoning\":\"r\",\"extracted_params\":{},\"clarifying_questions\":[]}\n```"

	r, err := parseOracleResponse(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "research_scout_agent", r.AgentID)
}

func TestParseOracleResponseClarifyingQuestionsAsStrings(t *testing.T) {
	raw := `{"agent_id":"","confidence":0.3,"reasoning":"ambiguous","extracted_params":{},"clarifying_questions":["Which topic?","What grade level?"]}`

	r, err := parseOracleResponse(raw, nil)
	require.NoError(t, err)
	assert.True(t, r.NeedsClarification)
	assert.Equal(t, []string{"Which topic?", "What grade level?"}, r.ClarifyingQuestions)
}

func TestParseOracleResponseClarifyingQuestionsAsObjects(t *testing.T) {
	raw := `{"agent_id":"","confidence":0.3,"reasoning":"ambiguous","extracted_params":{},"clarifying_questions":[{"question":"Which topic?"},{"text":"What grade level?"}]}`

	r, err := parseOracleResponse(raw, nil)
	require.NoError(t, err)
	assert.True(t, r.NeedsClarification)
	assert.Equal(t, []string{"Which topic?", "What grade level?"}, r.ClarifyingQuestions)
}

func TestParseOracleResponseInvalidJSON(t *testing.T) {
	_, err := parseOracleResponse("not json at all", nil)
	assert.Error(t, err)
}

func TestParseOracleResponseSubstitutesUnknownAgentID(t *testing.T) {
	raw := `{"agent_id":"made_up_agent","confidence":0.95,"reasoning":"very confident","extracted_params":{},"clarifying_questions":[]}`

	r, err := parseOracleResponse(raw, sampleCatalog())
	require.NoError(t, err)
	assert.Equal(t, GenericWrapperAgent, r.AgentID)
	assert.InDelta(t, 0.5, r.Confidence, 0.0001)
}

func TestParseOracleResponseResolvesKnownAgentAgainstCatalog(t *testing.T) {
	raw := `{"agent_id":"adaptive_quiz_master_agent","confidence":0.91,"reasoning":"quiz request","extracted_params":{},"clarifying_questions":[]}`

	r, err := parseOracleResponse(raw, sampleCatalog())
	require.NoError(t, err)
	assert.Equal(t, "adaptive_quiz_master_agent", r.AgentID)
	assert.InDelta(t, 0.91, r.Confidence, 0.0001)
}

func TestParseOracleResponseEmptyAgentIDNotSubstituted(t *testing.T) {
	raw := `{"agent_id":"","confidence":0.3,"reasoning":"ambiguous","extracted_params":{},"clarifying_questions":["What topic?"]}`

	r, err := parseOracleResponse(raw, sampleCatalog())
	require.NoError(t, err)
	assert.Empty(t, r.AgentID)
}

func TestStripMarkdownFenceWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"agent_id\":\"x\"}\n```"
	assert.Equal(t, `{"agent_id":"x"}`, stripMarkdownFence(raw))
}
