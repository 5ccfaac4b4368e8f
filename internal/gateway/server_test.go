package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/volans-ai/relay/internal/agent"
	"github.com/volans-ai/relay/internal/chat"
	"github.com/volans-ai/relay/internal/store"
	"github.com/volans-ai/relay/pkg/models"
)

type scriptedProvider struct {
	completions []*models.Message
	streams     [][]*agent.CompletionChunk
	calls       int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	if p.calls >= len(p.completions) {
		return nil, fmt.Errorf("unexpected completion call %d", p.calls)
	}
	msg := p.completions[p.calls]
	p.calls++
	return msg, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.calls >= len(p.streams) {
		return nil, fmt.Errorf("unexpected stream call %d", p.calls)
	}
	chunks := p.streams[p.calls]
	p.calls++

	out := make(chan *agent.CompletionChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestServer(t *testing.T, provider agent.LLMProvider) (*httptest.Server, *chat.Manager) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	loop := agent.NewLoop(provider, agent.NewToolRegistry(logger), agent.LoopConfig{Model: "gpt-4o"}, logger, nil)
	manager := chat.NewManager(store.NewMemoryStore(), loop, "", logger, nil)

	srv := httptest.NewServer(NewServer(manager, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, manager
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	// Create
	resp := postJSON(t, srv.URL+"/conversations", map[string]string{"title": "Demo"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var conv models.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if conv.ID == "" || conv.Title != "Demo" {
		t.Fatalf("conversation = %+v", conv)
	}

	// List
	listResp, err := http.Get(srv.URL + "/conversations")
	if err != nil {
		t.Fatalf("GET /conversations: %v", err)
	}
	defer listResp.Body.Close()
	var summaries []models.ConversationSummary
	if err := json.NewDecoder(listResp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != conv.ID {
		t.Fatalf("summaries = %+v", summaries)
	}

	// Get
	getResp, err := http.Get(srv.URL + "/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("GET conversation: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", getResp.StatusCode)
	}

	// Delete
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/conversations/"+conv.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE conversation: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", delResp.StatusCode)
	}

	// Delete again
	req2, _ := http.NewRequest(http.MethodDelete, srv.URL+"/conversations/"+conv.ID, nil)
	delResp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("DELETE conversation again: %v", err)
	}
	defer delResp2.Body.Close()
	if delResp2.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", delResp2.StatusCode)
	}
}

func TestGetUnknownConversation(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(srv.URL + "/conversations/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatNonStreaming(t *testing.T) {
	provider := &scriptedProvider{
		completions: []*models.Message{
			{Role: models.RoleAssistant, Content: "Hello back."},
		},
	}
	srv, manager := newTestServer(t, provider)

	conv, err := manager.Create(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp := postJSON(t, srv.URL+"/conversations/"+conv.ID+"/chat", map[string]any{
		"message": map[string]string{"role": "user", "content": "hello"},
		"stream":  false,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out chat.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Content != "Hello back." || out.ConversationID != conv.ID {
		t.Errorf("response = %+v", out)
	}
}

func TestChatRequiresMessageContent(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	resp := postJSON(t, srv.URL+"/conversations/any/chat", map[string]any{
		"message": map[string]string{"role": "user"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUnknownConversationIs404(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	resp := postJSON(t, srv.URL+"/conversations/missing/chat", map[string]any{
		"message": map[string]string{"role": "user", "content": "hi"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatStreamingSSE(t *testing.T) {
	provider := &scriptedProvider{
		streams: [][]*agent.CompletionChunk{
			{
				{Text: "Hello "},
				{Text: "world."},
			},
		},
	}
	srv, manager := newTestServer(t, provider)

	conv, err := manager.Create(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp := postJSON(t, srv.URL+"/conversations/"+conv.ID+"/chat", map[string]any{
		"message": map[string]string{"role": "user", "content": "hi"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := readSSEFrames(t, resp)
	if len(frames) != 5 {
		t.Fatalf("frames = %d (%q), want 5", len(frames), frames)
	}

	var first map[string]string
	if err := json.Unmarshal([]byte(frames[0]), &first); err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if first["conversation_id"] != conv.ID {
		t.Errorf("first frame = %q", frames[0])
	}

	assertDeltaFrame(t, frames[1], "Hello ")
	assertDeltaFrame(t, frames[2], "world.")

	var stop sseChunk
	if err := json.Unmarshal([]byte(frames[3]), &stop); err != nil {
		t.Fatalf("decode stop frame: %v", err)
	}
	if stop.Choices[0].FinishReason == nil || *stop.Choices[0].FinishReason != "stop" {
		t.Errorf("stop frame = %q", frames[3])
	}

	if frames[4] != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", frames[4])
	}
}

func readSSEFrames(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}

	var frames []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

func assertDeltaFrame(t *testing.T, frame, want string) {
	t.Helper()
	var chunk sseChunk
	if err := json.Unmarshal([]byte(frame), &chunk); err != nil {
		t.Fatalf("decode delta frame %q: %v", frame, err)
	}
	if len(chunk.Choices) != 1 || chunk.Choices[0].Delta.Content != want {
		t.Errorf("delta frame = %q, want content %q", frame, want)
	}
	if chunk.Choices[0].FinishReason != nil {
		t.Errorf("delta frame has finish_reason: %q", frame)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedProvider{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/conversations", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
