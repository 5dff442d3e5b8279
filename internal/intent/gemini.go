package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eduassist/supervisor/internal/apperr"
	"github.com/eduassist/supervisor/internal/obslog"
)

// ErrRateLimited marks a Classify failure caused specifically by the
// provider rate-limiting the request (HTTP 429, or an error body
// mentioning quota/rate limits) as opposed to any other transport or
// parse failure. Identify checks for it with errors.Is to decide whether
// the keyword fallback should suppress clarification.
var ErrRateLimited = errors.New("intent: oracle rate limited")

// GeminiClient is the LLM-backed Oracle, pointed at Gemini's
// generateContent endpoint and wrapped with a bounded exponential backoff
// specifically for 429 responses. Rate limiting the oracle is a different
// failure mode than a worker agent timing out, so this backoff is
// separate from the dispatcher's fixed single retry.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     obslog.Logger
}

// NewGeminiClient builds a client against the Gemini API. baseURL empty
// uses the public endpoint; set it to point at a proxy or a test server.
func NewGeminiClient(apiKey, model, baseURL string, timeout time.Duration, logger obslog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.WithComponent("intent.gemini"),
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Classify sends the assembled prompt to Gemini and parses its JSON
// contract out of the response. A 429 is retried with exponential backoff
// up to a handful of attempts; any other failure (including a context
// deadline) returns immediately so the Identifier can fall back to the
// keyword oracle without waiting out a long backoff schedule.
func (c *GeminiClient) Classify(ctx context.Context, req Request) (*Result, error) {
	prompt := buildPrompt(req)

	var lastStatus int
	var lastBody string

	text, err := backoff.Retry(ctx, func() (string, error) {
		body, status, err := c.call(ctx, prompt)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		lastStatus, lastBody = status, body
		if status == http.StatusTooManyRequests {
			return "", fmt.Errorf("gemini: rate limited")
		}
		if status != http.StatusOK {
			return "", backoff.Permanent(apperr.New("intent.classify", apperr.CodeCommunicationError, "", fmt.Sprintf("gemini returned status %d", status), apperr.ErrCommunication))
		}
		return body, nil
	}, backoff.WithMaxTries(4), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		if isRateLimitIndicator(lastStatus, lastBody) {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, err
	}

	return parseOracleResponse(text, req.Catalog)
}

// isRateLimitIndicator checks the last response observed across retries
// for an HTTP 429 or a quota/rate-limit marker in the body.
func isRateLimitIndicator(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource_exhausted")
}

func (c *GeminiClient) call(ctx context.Context, prompt string) (string, int, error) {
	payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("intent: encoding gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("intent: building gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("intent: calling gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return string(errBody), resp.StatusCode, nil
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("intent: decoding gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", 0, fmt.Errorf("intent: empty gemini response")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, resp.StatusCode, nil
}

var _ Oracle = (*GeminiClient)(nil)
