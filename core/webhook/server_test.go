package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/artbot/core/bot/dispatch"
	coreconfig "github.com/m3rciful/artbot/core/config"
)

type stubDispatcher struct {
	mu     sync.Mutex
	events []dispatch.Event
	done   chan struct{}
}

func (s *stubDispatcher) Dispatch(_ context.Context, ev dispatch.Event) (dispatch.Outcome, error) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return dispatch.OutcomeReplied, nil
}

func newTestServer(t *testing.T) (*Server, *stubDispatcher) {
	t.Helper()
	d := &stubDispatcher{done: make(chan struct{}, 1)}
	s := NewServer(coreconfig.WebhookConfig{Listen: "127.0.0.1", Port: 0}, "c0nf1rm", d, prometheus.NewRegistry())
	return s, d
}

func TestConfirmationEcho(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/vk_callback/",
		strings.NewReader(`{"type":"confirmation","group_id":165142388}`))
	w := httptest.NewRecorder()
	s.handleCallback(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c0nf1rm", w.Body.String())
}

func TestMessageNewAcknowledgedAndDispatched(t *testing.T) {
	s, d := newTestServer(t)

	body := `{
		"type": "message_new",
		"object": {"message": {
			"id": 33537,
			"peer_id": 410050173,
			"from_id": 410050173,
			"text": "g",
			"payload": "[{\"mid\": \"main\"}]"
		}},
		"group_id": 165142388
	}`
	req := httptest.NewRequest(http.MethodPost, "/vk_callback/", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleCallback(w, req)

	assert.Equal(t, "ok", w.Body.String())

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.events, 1)
	assert.EqualValues(t, 410050173, d.events[0].PeerID)
	assert.EqualValues(t, 33537, d.events[0].MessageID)
	assert.Equal(t, `[{"mid": "main"}]`, d.events[0].Payload)
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	s, d := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/vk_callback/",
		strings.NewReader(`{"type":"wall_post_new"}`))
	w := httptest.NewRecorder()
	s.handleCallback(w, req)

	assert.Equal(t, "ok", w.Body.String())
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.events)
}

func TestBadJSONStillAcknowledged(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/vk_callback/", strings.NewReader(`{broken`))
	w := httptest.NewRecorder()
	s.handleCallback(w, req)

	assert.Equal(t, "ok", w.Body.String())
}

func TestStatusPage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	assert.Contains(t, w.Body.String(), "server uptime")
	assert.Contains(t, w.Body.String(), "messages get: 0")
}
