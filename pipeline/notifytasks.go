package pipeline

import (
	"context"
	"fmt"

	"github.com/Monadical-SAS/reflector/taskgraph"
)

// PostNotification posts or updates the transcript's single chat message.
// Allowed 5 attempts and opted out of the error-status side effect: a
// finished transcript never flips back to error over a chat hiccup.
func (d *Deps) PostNotification(ctx context.Context, runID, transcriptID string) error {
	decl := taskgraph.Decl{Name: "PostNotification", Timeout: taskgraph.TimeoutMedium, Retries: 5, SkipErrorStatus: true}
	_, err := taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (struct{}, error) {
		transcript, err := d.Store.GetByID(ctx, transcriptID)
		if err != nil {
			return struct{}{}, fmt.Errorf("pipeline: post_notification: get transcript: %w", err)
		}

		messageID, err := d.Notifier.Notify(ctx, transcript)
		if err != nil {
			return struct{}{}, fmt.Errorf("pipeline: post_notification: %w", err)
		}

		if messageID != "" && (transcript.ZulipMessageID == nil || *transcript.ZulipMessageID != messageID) {
			if err := d.Store.Update(ctx, transcriptID, map[string]any{"zulip_message_id": messageID}); err != nil {
				return struct{}{}, fmt.Errorf("pipeline: post_notification: persist message id: %w", err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// SendWebhook delivers the signed completion webhook. Same policy as
// PostNotification: 5 attempts, never fatal to the transcript.
func (d *Deps) SendWebhook(ctx context.Context, runID, transcriptID string) error {
	decl := taskgraph.Decl{Name: "SendWebhook", Timeout: taskgraph.TimeoutMedium, Retries: 5, SkipErrorStatus: true}
	_, err := taskgraph.Execute(ctx, d.Engine, runID, transcriptID, decl, func(ctx context.Context) (struct{}, error) {
		transcript, err := d.Store.GetByID(ctx, transcriptID)
		if err != nil {
			return struct{}{}, fmt.Errorf("pipeline: send_webhook: get transcript: %w", err)
		}

		includeAudio := !transcript.AudioDeleted
		if err := d.Webhook.Send(ctx, d.WebhookSecret, transcript, includeAudio); err != nil {
			return struct{}{}, fmt.Errorf("pipeline: send_webhook: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}
