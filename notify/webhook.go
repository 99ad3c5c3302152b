// Package notify delivers the pipeline's outbound completion signals: an
// HMAC-signed webhook to a configured URL and a single chat message per
// transcript. Both are best-effort; a delivery failure never changes a
// Transcript's status.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Monadical-SAS/reflector/httperr"
	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

const webhookTimeout = 30 * time.Second

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Reflector-Signature"

// webhookTopic is the topic subset exposed to webhook consumers.
type webhookTopic struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Timestamp float64 `json:"timestamp"`
	Duration  float64 `json:"duration"`
}

type webhookParticipant struct {
	ID           string  `json:"id"`
	SpeakerIndex int     `json:"speaker_index"`
	DisplayName  string  `json:"display_name"`
	UserID       *string `json:"user_id,omitempty"`
}

type webhookTranscript struct {
	ID           string                   `json:"id"`
	Title        *string                  `json:"title"`
	ShortSummary *string                  `json:"short_summary"`
	LongSummary  *string                  `json:"long_summary"`
	Topics       []webhookTopic           `json:"topics"`
	Participants []webhookParticipant     `json:"participants"`
	ActionItems  *progressbus.ActionItems `json:"action_items,omitempty"`
	// Audio is omitted when consent cleanup removed the mixed MP3.
	Audio *webhookAudio `json:"audio,omitempty"`
}

type webhookAudio struct {
	Location string `json:"location"`
	Key      string `json:"key"`
}

type webhookPayload struct {
	Transcript webhookTranscript `json:"transcript"`
	EventType  string            `json:"event_type"`
}

// WebhookClient POSTs a signed completion payload to a configured URL.
type WebhookClient struct {
	client *resty.Client
	url    string
}

// NewWebhookClient builds a WebhookClient for url. An empty url disables
// delivery (Send becomes a logged no-op).
func NewWebhookClient(url string) *WebhookClient {
	return &WebhookClient{
		client: resty.New().SetTimeout(webhookTimeout).SetRetryCount(0),
		url:    url,
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send implements pipeline.WebhookSender: it serializes the transcript,
// signs the raw body with the room secret, and POSTs it. includeAudio
// false omits the audio block (consent-denied transcripts).
func (w *WebhookClient) Send(ctx context.Context, roomSecret string, t *transcriptstore.Transcript, includeAudio bool) error {
	if w.url == "" {
		logger.DebugContext(ctx, "notify: webhook url not configured, skipping", "transcript_id", t.ID)
		return nil
	}

	payload := webhookPayload{Transcript: buildWebhookTranscript(t, includeAudio), EventType: "transcript.completed"}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal webhook payload: %w", err)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(SignatureHeader, Sign(roomSecret, body)).
		SetBody(body).
		Post(w.url)
	if err != nil {
		return httperr.Wrap("webhook", err)
	}
	if resp.IsError() {
		return httperr.FromHTTP("webhook", resp.StatusCode(), resp.Body())
	}

	logger.InfoContext(ctx, "notify: webhook delivered", "transcript_id", t.ID, "status", resp.StatusCode())
	return nil
}

func buildWebhookTranscript(t *transcriptstore.Transcript, includeAudio bool) webhookTranscript {
	topics := make([]webhookTopic, len(t.Topics))
	for i, topic := range t.Topics {
		topics[i] = webhookTopic{
			ID:        topic.ID,
			Title:     topic.Title,
			Summary:   topic.Summary,
			Timestamp: topic.Timestamp,
			Duration:  topic.Duration,
		}
	}
	participants := make([]webhookParticipant, len(t.Participants))
	for i, p := range t.Participants {
		participants[i] = webhookParticipant{
			ID:           p.ID,
			SpeakerIndex: p.SpeakerIndex,
			DisplayName:  p.DisplayName,
			UserID:       p.UserID,
		}
	}

	out := webhookTranscript{
		ID:           t.ID,
		Title:        t.Title,
		ShortSummary: t.ShortSummary,
		LongSummary:  t.LongSummary,
		Topics:       topics,
		Participants: participants,
	}
	if t.ActionItems.Valid {
		items := t.ActionItems.ActionItems
		out.ActionItems = &items
	}
	if includeAudio && !t.AudioDeleted && t.AudioLocation == transcriptstore.AudioLocationStorage {
		out.Audio = &webhookAudio{Location: string(t.AudioLocation), Key: fmt.Sprintf("%s/audio.mp3", t.ID)}
	}
	return out
}
