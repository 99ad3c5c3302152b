// Package remoteasr is the client for the remote transcription endpoint:
// presigned audio URL + language in, a word list with track-local
// timestamps out. The caller (TranscriptionSubflow) is responsible for
// shifting words into meeting-global time.
package remoteasr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Monadical-SAS/reflector/httperr"
	"github.com/Monadical-SAS/reflector/logger"
)

// Word is one transcribed token with track-local start/end seconds.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Service transcribes a presigned audio URL.
type Service interface {
	// Transcribe returns words with track-local timestamps for the
	// audio at audioURL, spoken in language. Errors come back
	// classified: transient and quota failures retry with backoff,
	// invalid media fails the task.
	Transcribe(ctx context.Context, audioURL, language string) ([]Word, error)
}

// ErrInvalidMedia marks audio the remote ASR endpoint could not decode.
// This is a permanent failure; the task should not retry.
var ErrInvalidMedia = httperr.ErrPermanent

// HTTPService is the resty-backed Service implementation.
type HTTPService struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPService builds an HTTPService against baseURL with the given
// per-request timeout.
func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // retry policy is owned by the taskgraph, not the HTTP client

	return &HTTPService{client: client, baseURL: baseURL}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language"`
}

type transcribeResponse struct {
	Words []Word `json:"words"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transcribe implements Service.
func (s *HTTPService) Transcribe(ctx context.Context, audioURL, language string) ([]Word, error) {
	logger.HTTPRequest("remoteasr", "POST", s.baseURL+"/transcribe", transcribeRequest{AudioURL: audioURL, Language: language})

	var result transcribeResponse
	var errBody apiErrorBody
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(transcribeRequest{AudioURL: audioURL, Language: language}).
		Post("/transcribe")

	if err != nil {
		logger.HTTPResponse("remoteasr", 0, "", err)
		return nil, httperr.Wrap("remoteasr", err)
	}

	logger.HTTPResponse("remoteasr", resp.StatusCode(), resp.String(), nil)

	if resp.IsError() {
		_ = json.Unmarshal(resp.Body(), &errBody)
		if errBody.Code == "invalid_media" {
			return nil, &httperrInvalidMedia{message: errBody.Message}
		}
		return nil, httperr.FromHTTP("remoteasr", resp.StatusCode(), resp.Body())
	}

	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("remoteasr: decode response: %w", err)
	}
	return result.Words, nil
}

// httperrInvalidMedia is a permanent classification distinct from generic
// 4xx bodies so callers can distinguish "bad audio" from other client
// errors in logs, while still satisfying errors.Is(err, httperr.ErrPermanent).
type httperrInvalidMedia struct{ message string }

func (e *httperrInvalidMedia) Error() string { return "remoteasr: invalid media: " + e.message }
func (e *httperrInvalidMedia) Is(target error) bool {
	return target == httperr.ErrPermanent
}
