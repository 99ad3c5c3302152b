package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Monadical-SAS/reflector/httperr"
	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

// ZulipClient posts one message per transcript to a Zulip stream, updating
// it in place when the message id is already known so retries never spam
// the channel.
type ZulipClient struct {
	client *resty.Client
	stream string
	topic  string
}

// ZulipConfig configures NewZulipClient.
type ZulipConfig struct {
	SiteURL  string
	BotEmail string
	APIKey   string
	Stream   string
	Topic    string
}

// NewZulipClient builds a ZulipClient. An empty SiteURL disables delivery.
func NewZulipClient(cfg ZulipConfig) *ZulipClient {
	client := resty.New().
		SetBaseURL(cfg.SiteURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(0).
		SetBasicAuth(cfg.BotEmail, cfg.APIKey)
	return &ZulipClient{client: client, stream: cfg.Stream, topic: cfg.Topic}
}

type zulipSendResponse struct {
	ID     int64  `json:"id"`
	Result string `json:"result"`
	Msg    string `json:"msg"`
}

// Notify implements pipeline.Notifier. It creates the transcript's chat
// message on first call and edits the existing one when
// t.ZulipMessageID is set, returning the message id either way.
func (z *ZulipClient) Notify(ctx context.Context, t *transcriptstore.Transcript) (string, error) {
	if z.client.BaseURL == "" {
		logger.DebugContext(ctx, "notify: zulip not configured, skipping", "transcript_id", t.ID)
		return "", nil
	}

	content := buildZulipMessage(t)

	if t.ZulipMessageID != nil && *t.ZulipMessageID != "" {
		resp, err := z.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{"content": content}).
			Patch("/api/v1/messages/" + *t.ZulipMessageID)
		if err != nil {
			return "", httperr.Wrap("zulip", err)
		}
		if resp.IsError() {
			return "", httperr.FromHTTP("zulip", resp.StatusCode(), resp.Body())
		}
		return *t.ZulipMessageID, nil
	}

	var result zulipSendResponse
	resp, err := z.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"type":    "stream",
			"to":      z.stream,
			"topic":   z.topic,
			"content": content,
		}).
		Post("/api/v1/messages")
	if err != nil {
		return "", httperr.Wrap("zulip", err)
	}
	if resp.IsError() {
		return "", httperr.FromHTTP("zulip", resp.StatusCode(), resp.Body())
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("notify: decode zulip response: %w", err)
	}

	return fmt.Sprintf("%d", result.ID), nil
}

func buildZulipMessage(t *transcriptstore.Transcript) string {
	var b strings.Builder
	title := "Meeting transcript"
	if t.Title != nil && *t.Title != "" {
		title = *t.Title
	}
	fmt.Fprintf(&b, "**%s**\n\n", title)
	if t.ShortSummary != nil && *t.ShortSummary != "" {
		b.WriteString(*t.ShortSummary)
		b.WriteString("\n\n")
	}
	if len(t.Topics) > 0 {
		b.WriteString("Topics:\n")
		for _, topic := range t.Topics {
			fmt.Fprintf(&b, "- %s\n", topic.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
