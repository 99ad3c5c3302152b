package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func zulipClientFor(url string) *ZulipClient {
	return NewZulipClient(ZulipConfig{
		SiteURL:  url,
		BotEmail: "bot@example.com",
		APIKey:   "key",
		Stream:   "meetings",
		Topic:    "transcripts",
	})
}

func TestZulipNotify_CreatesMessage(t *testing.T) {
	var method, path, content string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		require.NoError(t, r.ParseForm())
		content = r.FormValue("content")
		assert.Equal(t, "meetings", r.FormValue("to"))

		w.Write([]byte(`{"id": 9001, "result": "success"}`))
	}))
	defer server.Close()

	title := "Q3 Planning"
	id, err := zulipClientFor(server.URL).Notify(context.Background(), &transcriptstore.Transcript{
		ID:     "t-1",
		Title:  &title,
		Topics: []transcriptstore.Topic{{Title: "Budget"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", id)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/v1/messages", path)
	assert.Contains(t, content, "Q3 Planning")
	assert.Contains(t, content, "- Budget")
}

func TestZulipNotify_UpdatesExistingMessage(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.Write([]byte(`{"result": "success"}`))
	}))
	defer server.Close()

	existing := "9001"
	id, err := zulipClientFor(server.URL).Notify(context.Background(), &transcriptstore.Transcript{
		ID:             "t-1",
		ZulipMessageID: &existing,
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", id, "updates keep the same message id")
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/api/v1/messages/9001", path)
}

func TestZulipNotify_UnconfiguredIsNoOp(t *testing.T) {
	id, err := NewZulipClient(ZulipConfig{}).Notify(context.Background(), &transcriptstore.Transcript{ID: "t-1"})
	require.NoError(t, err)
	assert.Empty(t, id)
}
