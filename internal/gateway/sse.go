package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/volans-ai/relay/internal/store"
	"github.com/volans-ai/relay/pkg/models"
)

// sseChunk mirrors the chat-completions chunk envelope that streaming
// clients already know how to parse.
type sseChunk struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta        sseDelta `json:"delta"`
	Index        int      `json:"index"`
	FinishReason *string  `json:"finish_reason"`
}

type sseDelta struct {
	Content string `json:"content,omitempty"`
}

var finishStop = "stop"

// streamChat runs one chat turn and relays the event stream as SSE frames:
// a conversation id frame, content delta frames, a finish_reason=stop frame,
// then the [DONE] sentinel.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, conversationID string, message models.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.manager.ChatStream(r.Context(), conversationID, message)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.logger.Error("failed to start chat stream", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat turn failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		switch {
		case ev.Err != nil:
			// Headers are already sent, so the failure travels in-band.
			s.logger.Error("chat stream failed", "conversation_id", conversationID, "error", ev.Err)
			writeSSE(w, map[string]string{"error": "chat turn failed"})
			flusher.Flush()
			return

		case ev.ConversationID != "":
			writeSSE(w, map[string]string{"conversation_id": ev.ConversationID})

		case ev.Stop:
			writeSSE(w, sseChunk{Choices: []sseChoice{{Delta: sseDelta{}, Index: 0, FinishReason: &finishStop}}})

		case ev.End:
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")

		default:
			writeSSE(w, sseChunk{Choices: []sseChoice{{Delta: sseDelta{Content: ev.Text}, Index: 0, FinishReason: nil}}})
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
