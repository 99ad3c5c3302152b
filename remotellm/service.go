// Package remotellm is the client for the remote LLM endpoint: free-form
// completion, and schema-validated structured completion with a
// parse-error feedback loop. Naive retry resends the same broken prompt
// and gets the same broken output; this client appends the prior raw
// output plus the validator's errors before reissuing.
package remotellm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/Monadical-SAS/reflector/httperr"
	"github.com/Monadical-SAS/reflector/logger"
)

// Message is one entry of prior conversational context passed alongside a
// prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetryPolicy holds the separately-budgeted network vs parse retry
// counts. Mixing the budgets under-retries one kind or over-retries the
// other. Network attempts back off exponentially; parse attempts
// re-issue the request with an appended feedback block.
type RetryPolicy struct {
	NetworkAttempts int
	ParseAttempts   int
	WaitJitter      bool
}

// DefaultRetryPolicy is 5 network attempts, 3 parse attempts, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{NetworkAttempts: 5, ParseAttempts: 3, WaitJitter: true}
}

// Service is the remote LLM interface.
type Service interface {
	// Complete returns free-form text for prompt, with context as prior
	// turns. Retries transient network/rate-limit errors per RetryPolicy.
	Complete(ctx context.Context, prompt string, context []Message) (string, error)

	// CompleteStructured returns a schema-validated value. schema is a
	// JSON Schema document; out receives the decoded, validated JSON.
	// Network and parse/validation errors are retried on separate
	// budgets.
	CompleteStructured(ctx context.Context, prompt string, msgContext []Message, schema []byte, out any) error
}

// HTTPService is the resty-backed Service implementation.
type HTTPService struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter
	retry   RetryPolicy
}

// NewHTTPService builds an HTTPService. requestsPerSecond bounds the
// client-side rate limiter shared across all calls from this process;
// parallel subject/topic fan-outs contend on it rather than on any
// per-task limit.
func NewHTTPService(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64, retry RetryPolicy) *HTTPService {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPService{
		client:  client,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		retry:   retry,
	}
}

type completeRequest struct {
	Prompt  string    `json:"prompt"`
	Context []Message `json:"context,omitempty"`
	Schema  any       `json:"schema,omitempty"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// Complete implements Service.
func (s *HTTPService) Complete(ctx context.Context, prompt string, msgContext []Message) (string, error) {
	var text string
	err := s.withNetworkRetry(ctx, "complete", func() error {
		var result completeResponse
		resp, err := s.client.R().
			SetContext(ctx).
			SetBody(completeRequest{Prompt: prompt, Context: msgContext}).
			Post("/complete")
		if err != nil {
			return httperr.Wrap("remotellm", err)
		}
		if resp.IsError() {
			return httperr.FromHTTP("remotellm", resp.StatusCode(), resp.Body())
		}
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return fmt.Errorf("remotellm: decode response: %w", err)
		}
		text = result.Text
		return nil
	})
	return text, err
}

// CompleteStructured implements Service. Each parse attempt is itself
// network-retried, and a parse failure appends feedback before the next
// attempt consumes one of the parse budget.
func (s *HTTPService) CompleteStructured(ctx context.Context, prompt string, msgContext []Message, schema []byte, out any) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)

	currentPrompt := prompt
	var lastErr error

	for attempt := 1; attempt <= s.retry.ParseAttempts; attempt++ {
		var raw string
		err := s.withNetworkRetry(ctx, "complete_structured", func() error {
			var result completeResponse
			resp, err := s.client.R().
				SetContext(ctx).
				SetBody(completeRequest{Prompt: currentPrompt, Context: msgContext, Schema: json.RawMessage(schema)}).
				Post("/complete")
			if err != nil {
				return httperr.Wrap("remotellm", err)
			}
			if resp.IsError() {
				return httperr.FromHTTP("remotellm", resp.StatusCode(), resp.Body())
			}
			if err := json.Unmarshal(resp.Body(), &result); err != nil {
				return fmt.Errorf("remotellm: decode response: %w", err)
			}
			raw = result.Text
			return nil
		})
		if err != nil {
			return err // network budget exhausted: not a parse error, propagate directly
		}

		validationErrs, parseErr := validate(raw, schemaLoader, out)
		if parseErr == nil && len(validationErrs) == 0 {
			return nil
		}

		lastErr = buildParseError(raw, parseErr, validationErrs)
		logger.WarnContext(ctx, "remotellm: structured parse/validation failed, retrying with feedback",
			"attempt", attempt, "error", lastErr)

		currentPrompt = appendFeedback(prompt, raw, lastErr)
	}

	return fmt.Errorf("remotellm: parse attempts exhausted: %w", lastErr)
}

// withNetworkRetry retries fn on transient httperr classifications with
// exponential backoff, up to s.retry.NetworkAttempts total attempts.
func (s *HTTPService) withNetworkRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retry.NetworkAttempts; attempt++ {
		if waitErr := s.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !httperr.IsTransient(err) {
			return err
		}
		if attempt == s.retry.NetworkAttempts {
			break
		}

		backoff := s.backoff(attempt)
		logger.TaskRetry(op, "", attempt, backoff.String(), err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("remotellm: network attempts exhausted: %w", err)
}

func (s *HTTPService) backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	if !s.retry.WaitJitter {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

// validate decodes raw as JSON, validates it against schemaLoader, and on
// success unmarshals it into out. It returns (nil, parseErr) if raw is not
// valid JSON, or (validationErrs, nil) if it parses but fails the schema.
func validate(raw string, schemaLoader gojsonschema.JSONLoader, out any) ([]string, error) {
	docLoader := gojsonschema.NewStringLoader(raw)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("remotellm: invalid JSON: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return errs, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return nil, fmt.Errorf("remotellm: unmarshal into target: %w", err)
	}
	return nil, nil
}

type parseError struct {
	raw            string
	parseErr       error
	validationErrs []string
}

func (e *parseError) Error() string {
	if e.parseErr != nil {
		return e.parseErr.Error()
	}
	return fmt.Sprintf("schema validation failed: %v", e.validationErrs)
}

func buildParseError(raw string, parseErr error, validationErrs []string) error {
	return &parseError{raw: raw, parseErr: parseErr, validationErrs: validationErrs}
}

// appendFeedback builds the next attempt's prompt by appending the prior
// raw output and the validator's errors.
func appendFeedback(originalPrompt, raw string, err error) string {
	return fmt.Sprintf(
		"%s\n\n--- Your previous response failed validation ---\nPrevious output:\n%s\n\nErrors:\n%s\n\nPlease respond again, fixing these errors.",
		originalPrompt, raw, err.Error(),
	)
}
