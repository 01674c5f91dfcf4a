package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/edupulse/event-pipeline/internal/config"
	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/repository"
	"github.com/edupulse/event-pipeline/internal/router"
)

type fakeRepo struct {
	inserted []events.Event
}

func (f *fakeRepo) Insert(ctx context.Context, ev events.Event) error {
	f.inserted = append(f.inserted, ev)
	return nil
}

func (f *fakeRepo) Query(ctx context.Context, params repository.QueryParams) ([]events.Event, error) {
	return nil, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*events.Event, error) {
	return nil, repository.ErrEventNotFound
}

func (f *fakeRepo) Stats(ctx context.Context) (*repository.PipelineStats, error) {
	return &repository.PipelineStats{}, nil
}

func (f *fakeRepo) ListBefore(ctx context.Context, before *time.Time) ([]events.Event, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteBefore(ctx context.Context, before *time.Time) (int64, error) {
	return 0, nil
}

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		MaxMessageBytes:  1024 * 1024,
		MaxConnsPerIP:    10,
		SubscribeTimeout: 2 * time.Second,
		KeepAliveTimeout: 30 * time.Second,
	}
}

func startTestServer(t *testing.T, rt *router.Router, repo *fakeRepo, authCfg config.AuthConfig) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(rt, repo, events.NewValidator(50, 64*1024), nil, testWSConfig(), authCfg, logger)

	r := chi.NewRouter()
	RegisterRoutes(r, h)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
}

func TestSubscribe_ReceivesMatchingEvents(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	rt.Start()
	defer rt.Stop()

	srv := startTestServer(t, rt, &fakeRepo{}, config.AuthConfig{})
	conn := dial(t, srv, "/ws/subscribe")

	if err := conn.WriteJSON(map[string]interface{}{
		"event_types": []string{events.EventTypeQuizStarted},
	}); err != nil {
		t.Fatalf("failed to send config: %v", err)
	}

	var ack struct {
		Status       string        `json:"status"`
		SubscriberID string        `json:"subscriber_id"`
		Filters      events.Filter `json:"filters"`
	}
	readJSON(t, conn, &ack)

	if ack.Status != "subscribed" {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}
	if !strings.HasPrefix(ack.SubscriberID, "sub_") {
		t.Errorf("subscriber id should have sub_ prefix, got %s", ack.SubscriberID)
	}

	matching := events.Event{
		ID:        events.NewEventID(),
		Type:      events.EventTypeQuizStarted,
		Source:    "quiz-service",
		Payload:   []byte(`{}`),
		Timestamp: time.Now().UTC(),
	}
	other := matching
	other.ID = events.NewEventID()
	other.Type = events.EventTypeTimerTick

	rt.Publish(other)
	rt.Publish(matching)

	var received events.Event
	readJSON(t, conn, &received)

	if received.ID != matching.ID {
		t.Errorf("expected the filtered event %s, got %s (%s)", matching.ID, received.ID, received.Type)
	}
}

func TestSubscribe_PingPongAndFilterUpdate(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	rt.Start()
	defer rt.Stop()

	srv := startTestServer(t, rt, &fakeRepo{}, config.AuthConfig{})
	conn := dial(t, srv, "/ws/subscribe")

	conn.WriteJSON(map[string]interface{}{})
	var ack map[string]interface{}
	readJSON(t, conn, &ack)

	conn.WriteJSON(map[string]string{"type": "ping"})
	var pong struct {
		Type string `json:"type"`
	}
	readJSON(t, conn, &pong)
	if pong.Type != "pong" {
		t.Errorf("expected pong, got %s", pong.Type)
	}

	conn.WriteJSON(map[string]interface{}{
		"type": "update_filters",
		"filters": map[string]interface{}{
			"session_id": "sess-9",
		},
	})
	var updated struct {
		Status  string        `json:"status"`
		Filters events.Filter `json:"filters"`
	}
	readJSON(t, conn, &updated)
	if updated.Status != "filters_updated" {
		t.Fatalf("expected filters_updated, got %+v", updated)
	}
	if updated.Filters.SessionID != "sess-9" {
		t.Errorf("updated filter should echo session id, got %+v", updated.Filters)
	}
}

func TestSubscribe_CapacityRejection(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 1},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rt.Stop()

	// Occupy the only slot.
	if _, ok := rt.Subscribe(sendFunc(func(events.Event) error { return nil }), events.Filter{}); !ok {
		t.Fatal("seed subscribe failed")
	}

	srv := startTestServer(t, rt, &fakeRepo{}, config.AuthConfig{})
	conn := dial(t, srv, "/ws/subscribe")

	conn.WriteJSON(map[string]interface{}{})

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	readJSON(t, conn, &reply)
	if reply.Status != "error" || reply.Message != "Server at subscriber capacity" {
		t.Errorf("expected capacity rejection, got %+v", reply)
	}
}

type sendFunc func(events.Event) error

func (f sendFunc) Send(ev events.Event) error { return f(ev) }

func TestSubscribe_DisconnectUnsubscribes(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	rt.Start()
	defer rt.Stop()

	srv := startTestServer(t, rt, &fakeRepo{}, config.AuthConfig{})
	conn := dial(t, srv, "/ws/subscribe")

	conn.WriteJSON(map[string]interface{}{})
	var ack map[string]interface{}
	readJSON(t, conn, &ack)

	if got := rt.Stats().ActiveSubscribers; got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rt.Stats().ActiveSubscribers != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rt.Stats().ActiveSubscribers; got != 0 {
		t.Errorf("subscriber should be removed on disconnect, got %d", got)
	}
}

func TestPublish_AcksEachEvent(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	rt.Start()
	defer rt.Stop()

	repo := &fakeRepo{}
	srv := startTestServer(t, rt, repo, config.AuthConfig{})
	conn := dial(t, srv, "/ws/publish")

	conn.WriteJSON(map[string]interface{}{
		"event_type": events.EventTypeAnswerSubmitted,
		"source":     "quiz-service",
		"session_id": "sess-1",
		"payload":    map[string]interface{}{"answer": "b"},
	})

	var ack publishAck
	readJSON(t, conn, &ack)
	if ack.Status != "ok" {
		t.Fatalf("expected ok ack, got %+v", ack)
	}
	if !strings.HasPrefix(ack.EventID, "evt_") {
		t.Errorf("ack should carry the event id, got %s", ack.EventID)
	}
	if len(repo.inserted) != 1 {
		t.Errorf("event should be persisted, repo has %d", len(repo.inserted))
	}
}

func TestPublish_RejectsBadMessages(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rt.Stop()

	srv := startTestServer(t, rt, &fakeRepo{}, config.AuthConfig{})
	conn := dial(t, srv, "/ws/publish")

	// Not JSON at all.
	conn.WriteMessage(websocket.TextMessage, []byte("{nope"))
	var ack publishAck
	readJSON(t, conn, &ack)
	if ack.Status != "error" || ack.Message != "Invalid JSON" {
		t.Errorf("expected Invalid JSON error, got %+v", ack)
	}

	// Valid JSON, unknown event type.
	conn.WriteJSON(map[string]interface{}{
		"event_type": "quiz_exploded",
		"source":     "quiz-service",
	})
	readJSON(t, conn, &ack)
	if ack.Status != "error" {
		t.Errorf("expected validation error, got %+v", ack)
	}

	// The connection stays usable after errors.
	conn.WriteJSON(map[string]interface{}{
		"event_type": events.EventTypeQuizStarted,
		"source":     "quiz-service",
	})
	readJSON(t, conn, &ack)
	if ack.Status != "ok" {
		t.Errorf("connection should survive rejected messages, got %+v", ack)
	}
}

func TestWS_RequiresAuth(t *testing.T) {
	rt := router.New(router.Config{QueueSize: 16, MaxSubscribers: 16},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rt.Stop()

	authCfg := config.AuthConfig{APIKey: "secret-key", RequireAuth: true}
	srv := startTestServer(t, rt, &fakeRepo{}, authCfg)

	// No key: the server closes with the unauthorized code.
	conn := dial(t, srv, "/ws/subscribe")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, closeUnauthorized) {
		t.Errorf("expected close code %d, got %v", closeUnauthorized, err)
	}

	// Key in the query string is accepted.
	authed := dial(t, srv, "/ws/subscribe?api_key=secret-key")
	authed.WriteJSON(map[string]interface{}{})
	var ack struct {
		Status string `json:"status"`
	}
	readJSON(t, authed, &ack)
	if ack.Status != "subscribed" {
		t.Errorf("expected subscribed with valid key, got %+v", ack)
	}
}
