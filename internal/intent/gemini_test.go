package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduassist/supervisor/internal/obslog"
)

func geminiStub(t *testing.T, replyText string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error": {"message": "boom"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{
					"content": map[string]interface{}{
						"parts": []interface{}{map[string]interface{}{"text": replyText}},
					},
				},
			},
		})
	}))
}

func TestGeminiClassifyParsesFencedContract(t *testing.T) {
	reply := "```json\n{\"agent_id\":\"adaptive_quiz_master_agent\",\"confidence\":0.92,\"reasoning\":\"quiz\",\"extracted_params\":{\"topic\":\"loops\"},\"clarifying_questions\":[]}\n```"
	srv := geminiStub(t, reply, http.StatusOK)
	defer srv.Close()

	c := NewGeminiClient("test-key", "test-model", srv.URL, 5*time.Second, obslog.New("test"))
	r, err := c.Classify(context.Background(), Request{UserMessage: "quiz me on loops"})
	require.NoError(t, err)
	assert.Equal(t, "adaptive_quiz_master_agent", r.AgentID)
	assert.Equal(t, "loops", r.ExtractedParams["topic"])
}

func TestGeminiClassifyNonRateLimitFailureIsNotErrRateLimited(t *testing.T) {
	srv := geminiStub(t, "", http.StatusInternalServerError)
	defer srv.Close()

	c := NewGeminiClient("test-key", "test-model", srv.URL, 5*time.Second, obslog.New("test"))
	_, err := c.Classify(context.Background(), Request{UserMessage: "hello"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestIsRateLimitIndicator(t *testing.T) {
	assert.True(t, isRateLimitIndicator(http.StatusTooManyRequests, ""))
	assert.True(t, isRateLimitIndicator(http.StatusForbidden, `{"error": "Quota exceeded for project"}`))
	assert.True(t, isRateLimitIndicator(http.StatusBadRequest, "RESOURCE_EXHAUSTED"))
	assert.False(t, isRateLimitIndicator(http.StatusInternalServerError, "internal error"))
}
