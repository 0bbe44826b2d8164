package evaluation

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

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/types"
)

// ErrQuota marks a rate-limit or quota rejection from the model gateway.
var ErrQuota = errors.New("model quota exceeded")

// CredentialPool is the subset of *credentials.Pool the runner uses.
type CredentialPool interface {
	Acquire(region string) (credentials.Credential, error)
	ReportSuccess(id string) error
	ReportFailure(id string, isQuotaError bool) error
}

// ChatConfig configures a ChatRunner.
type ChatConfig struct {
	URL         string
	Region      string
	Rules       []string
	Timeout     time.Duration
	RetryWindow time.Duration
	// Logger defaults to the evaluation-chat component logger.
	Logger *logrus.Entry
}

// ChatRunner implements ModelRunner against an OpenAI-compatible
// chat-completions endpoint, drawing its API key from the credential pool.
type ChatRunner struct {
	cfg    ChatConfig
	pool   CredentialPool
	client *http.Client
	log    *logrus.Entry
}

func NewChatRunner(cfg ChatConfig, pool CredentialPool) *ChatRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 45 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New().WithComponent("evaluation-chat")
	}
	return &ChatRunner{
		cfg:    cfg,
		pool:   pool,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

type verdict struct {
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Issues     []types.Issue `json:"issues"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// RunModel evaluates one conversation on modelID.
func (r *ChatRunner) RunModel(ctx context.Context, modelID, conversation string, maxTokens int) (ModelOutput, error) {
	if r.cfg.URL == "" {
		return ModelOutput{}, fmt.Errorf("llm gateway not configured")
	}
	cred, err := r.pool.Acquire(r.cfg.Region)
	if err != nil {
		return ModelOutput{}, fmt.Errorf("acquire llm credential: %w", err)
	}
	log := r.log.WithFields(logrus.Fields{"model": modelID, "credential_id": cred.ID})

	out, err := r.call(ctx, cred.Secret, modelID, BuildPrompt(conversation, r.cfg.Rules), maxTokens, log)
	if err != nil {
		if rerr := r.pool.ReportFailure(cred.ID, errors.Is(err, ErrQuota)); rerr != nil {
			log.WithError(rerr).Warn("report credential failure")
		}
		return ModelOutput{}, err
	}
	if rerr := r.pool.ReportSuccess(cred.ID); rerr != nil {
		log.WithError(rerr).Warn("report credential success")
	}
	return out, nil
}

func (r *ChatRunner) call(ctx context.Context, apiKey, model, prompt string, maxTokens int, log *logrus.Entry) (ModelOutput, error) {
	reqBody := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	if maxTokens > 0 {
		reqBody["max_tokens"] = maxTokens
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return ModelOutput{}, err
	}

	var out ModelOutput
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired:
			return backoff.Permanent(fmt.Errorf("%w: http %d", ErrQuota, resp.StatusCode))
		case resp.StatusCode >= 500:
			return fmt.Errorf("llm server error %d: %s", resp.StatusCode, string(body))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("llm client error %d: %s", resp.StatusCode, string(body)))
		}

		v, tokens, err := parseVerdict(body)
		if err != nil {
			// models occasionally wrap or truncate the JSON; a retry usually fixes it
			return err
		}
		out = ModelOutput{
			Score:      v.Score,
			Confidence: percent(v.Confidence),
			Issues:     v.Issues,
			TokenUsage: tokens,
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.cfg.RetryWindow
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return ModelOutput{}, fmt.Errorf("llm evaluate failed: %w", err)
	}
	return out, nil
}

// parseVerdict reads the verdict from choices[0].message.content, falling
// back to the first JSON object anywhere in the body.
func parseVerdict(body []byte) (verdict, int, error) {
	var v verdict
	var resp chatResponse
	tokens := 0
	if err := json.Unmarshal(body, &resp); err == nil {
		tokens = resp.Usage.TotalTokens
		if len(resp.Choices) > 0 {
			if inner := extractJSON(resp.Choices[0].Message.Content); inner != "" {
				if err := json.Unmarshal([]byte(inner), &v); err == nil {
					return v, tokens, nil
				}
			}
		}
	}
	if fallback := extractJSON(string(body)); fallback != "" {
		if err := json.Unmarshal([]byte(fallback), &v); err == nil && (v.Confidence != 0 || v.Score != 0 || v.Issues != nil) {
			return v, tokens, nil
		}
	}
	return verdict{}, tokens, fmt.Errorf("no JSON verdict found in LLM output")
}

// percent rescales a 0–1 confidence to 0–100.
func percent(c float64) float64 {
	if c > 0 && c <= 1 {
		return c * 100
	}
	return c
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
