package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/progressbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// progressHandler serves GET /progress/{transcriptID}?cursor=N as a
// WebSocket stream of progress events. The cursor lets a reconnecting
// client resume from the last stream id it saw; with no cursor the full
// durable log replays first.
func progressHandler(bus progressbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transcriptID := strings.TrimPrefix(r.URL.Path, "/progress/")
		if transcriptID == "" {
			http.Error(w, "missing transcript id", http.StatusBadRequest)
			return
		}
		cursor := r.URL.Query().Get("cursor")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events, stop, err := bus.Subscribe(r.Context(), transcriptID, cursor)
		if err != nil {
			logger.Error("worker: progress subscribe", "transcript_id", transcriptID, "error", err)
			return
		}
		defer stop()

		for ev := range events {
			frame, err := json.Marshal(struct {
				Event progressbus.Kind `json:"event"`
				Data  json.RawMessage  `json:"data"`
			}{Event: ev.Event, Data: ev.Data})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
