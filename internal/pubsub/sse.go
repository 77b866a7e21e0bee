package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// SSEHandler streams hub events for one topic as server-sent events. The
// stream carries no replay: viewers that reconnect must refetch the entity
// before trusting further deltas.
func SSEHandler(hub *Hub, topicFor func(*http.Request) string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := topicFor(r)
		if topic == "" {
			http.Error(w, "missing entity id", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := hub.Subscribe(topic)
		defer cancel()

		logger.Info("viewer connected", "topic", topic)

		for {
			select {
			case <-r.Context().Done():
				logger.Info("viewer disconnected", "topic", topic)
				return
			case ev, open := <-events:
				if !open {
					return
				}
				data, err := json.Marshal(ev.Payload)
				if err != nil {
					logger.Error("failed to encode event", "error", err, "topic", topic)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
