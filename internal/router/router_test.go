package router

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/edupulse/event-pipeline/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func makeEvent(eventType string, sessionID, userID *string) events.Event {
	return events.Event{
		ID:        events.NewEventID(),
		Type:      eventType,
		Source:    "quiz-service",
		SessionID: sessionID,
		UserID:    userID,
		Payload:   []byte(`{}`),
		Timestamp: time.Now().UTC(),
	}
}

// testConn records delivered events. failAfter makes Send start failing
// after that many deliveries; panicOn makes Send panic for one event id.
type testConn struct {
	mu        sync.Mutex
	received  []events.Event
	failAfter int
	panicOn   string
}

func newTestConn() *testConn {
	return &testConn{failAfter: -1}
}

func (c *testConn) Send(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ID == c.panicOn {
		panic("connection wedged")
	}
	if c.failAfter >= 0 && len(c.received) >= c.failAfter {
		return errors.New("connection closed")
	}
	c.received = append(c.received, ev)
	return nil
}

func (c *testConn) events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.received))
	copy(out, c.received)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRouter_DeliversMatchingEvents(t *testing.T) {
	r := New(Config{QueueSize: 16, MaxSubscribers: 16}, testLogger())
	r.Start()
	defer r.Stop()

	quizConn := newTestConn()
	sessConn := newTestConn()
	allConn := newTestConn()

	if _, ok := r.Subscribe(quizConn, events.Filter{EventTypes: []string{events.EventTypeQuizStarted}}); !ok {
		t.Fatal("subscribe failed")
	}
	if _, ok := r.Subscribe(sessConn, events.Filter{SessionID: "sess-1"}); !ok {
		t.Fatal("subscribe failed")
	}
	if _, ok := r.Subscribe(allConn, events.Filter{}); !ok {
		t.Fatal("subscribe failed")
	}

	started := makeEvent(events.EventTypeQuizStarted, strPtr("sess-1"), nil)
	answered := makeEvent(events.EventTypeAnswerSubmitted, strPtr("sess-2"), nil)

	if !r.Publish(started) {
		t.Fatal("publish should succeed")
	}
	if !r.Publish(answered) {
		t.Fatal("publish should succeed")
	}

	waitFor(t, func() bool { return len(allConn.events()) == 2 }, "catch-all subscriber should receive both events")

	if got := quizConn.events(); len(got) != 1 || got[0].ID != started.ID {
		t.Errorf("type-filtered subscriber should receive only quiz_started, got %d events", len(got))
	}
	if got := sessConn.events(); len(got) != 1 || got[0].ID != started.ID {
		t.Errorf("session-filtered subscriber should receive only the sess-1 event, got %d events", len(got))
	}
}

func TestRouter_FIFOPerSubscriber(t *testing.T) {
	r := New(Config{QueueSize: 128, MaxSubscribers: 4}, testLogger())
	r.Start()
	defer r.Stop()

	conn := newTestConn()
	if _, ok := r.Subscribe(conn, events.Filter{}); !ok {
		t.Fatal("subscribe failed")
	}

	published := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		ev := makeEvent(events.EventTypeTimerTick, nil, nil)
		published = append(published, ev.ID)
		if !r.Publish(ev) {
			t.Fatal("publish should succeed")
		}
	}

	waitFor(t, func() bool { return len(conn.events()) == 50 }, "all events should be delivered")

	for i, ev := range conn.events() {
		if ev.ID != published[i] {
			t.Fatalf("delivery order broken at index %d: got %s want %s", i, ev.ID, published[i])
		}
	}
}

func TestRouter_PublishRejectsWhenQueueFull(t *testing.T) {
	// No Start: nothing drains the queue.
	r := New(Config{QueueSize: 3, MaxSubscribers: 4}, testLogger())
	defer r.Stop()

	for i := 0; i < 3; i++ {
		if !r.Publish(makeEvent(events.EventTypeTimerTick, nil, nil)) {
			t.Fatalf("publish %d should succeed", i)
		}
	}

	if r.Publish(makeEvent(events.EventTypeTimerTick, nil, nil)) {
		t.Error("publish should be rejected when queue is full")
	}

	if got := r.Stats().QueueSize; got != 3 {
		t.Errorf("queue size should be 3, got %d", got)
	}
}

func TestRouter_SubscriberCapacity(t *testing.T) {
	r := New(Config{QueueSize: 4, MaxSubscribers: 2}, testLogger())
	defer r.Stop()

	id1, ok := r.Subscribe(newTestConn(), events.Filter{})
	if !ok {
		t.Fatal("first subscribe should succeed")
	}
	if _, ok := r.Subscribe(newTestConn(), events.Filter{}); !ok {
		t.Fatal("second subscribe should succeed")
	}

	if _, ok := r.Subscribe(newTestConn(), events.Filter{}); ok {
		t.Error("subscribe beyond capacity should be rejected")
	}
	if got := r.Stats().ActiveSubscribers; got != 2 {
		t.Errorf("rejected subscribe must not mutate the registry, got %d subscribers", got)
	}

	// Freeing a slot makes subscribe succeed again.
	r.Unsubscribe(id1)
	if _, ok := r.Subscribe(newTestConn(), events.Filter{}); !ok {
		t.Error("subscribe should succeed after a slot opens")
	}
}

func TestRouter_UnsubscribeIdempotent(t *testing.T) {
	r := New(Config{QueueSize: 4, MaxSubscribers: 4}, testLogger())
	defer r.Stop()

	id, _ := r.Subscribe(newTestConn(), events.Filter{})

	r.Unsubscribe(id)
	r.Unsubscribe(id)
	r.Unsubscribe("sub_deadbeef")

	if got := r.Stats().ActiveSubscribers; got != 0 {
		t.Errorf("expected 0 subscribers, got %d", got)
	}
}

func TestRouter_FailedSendRemovesSubscriber(t *testing.T) {
	r := New(Config{QueueSize: 16, MaxSubscribers: 4}, testLogger())
	r.Start()
	defer r.Stop()

	dead := newTestConn()
	dead.failAfter = 0
	healthy := newTestConn()

	r.Subscribe(dead, events.Filter{})
	r.Subscribe(healthy, events.Filter{})

	r.Publish(makeEvent(events.EventTypeQuizStarted, nil, nil))

	waitFor(t, func() bool { return r.Stats().ActiveSubscribers == 1 },
		"failed subscriber should be removed")

	// The healthy subscriber keeps receiving.
	r.Publish(makeEvent(events.EventTypeQuizCompleted, nil, nil))
	waitFor(t, func() bool { return len(healthy.events()) == 2 },
		"healthy subscriber should receive both events")

	if len(dead.events()) != 0 {
		t.Errorf("dead connection should have received nothing, got %d", len(dead.events()))
	}
}

func TestRouter_PanicContainedToOneEvent(t *testing.T) {
	r := New(Config{QueueSize: 16, MaxSubscribers: 4}, testLogger())
	r.Start()
	defer r.Stop()

	poison := makeEvent(events.EventTypeErrorOccurred, nil, nil)

	wedged := newTestConn()
	wedged.panicOn = poison.ID
	r.Subscribe(wedged, events.Filter{})

	r.Publish(poison)

	// The dispatch loop must survive and keep routing later events.
	follower := makeEvent(events.EventTypeQuizStarted, nil, nil)
	r.Publish(follower)

	waitFor(t, func() bool {
		evs := wedged.events()
		return len(evs) == 1 && evs[0].ID == follower.ID
	}, "dispatch loop should survive a panicking connection")
}

func TestRouter_UpdateFilter(t *testing.T) {
	r := New(Config{QueueSize: 16, MaxSubscribers: 4}, testLogger())
	r.Start()
	defer r.Stop()

	conn := newTestConn()
	id, _ := r.Subscribe(conn, events.Filter{EventTypes: []string{events.EventTypeQuizStarted}})

	if !r.UpdateFilter(id, events.Filter{EventTypes: []string{events.EventTypeQuizCompleted}}) {
		t.Fatal("update should succeed for registered id")
	}
	if r.UpdateFilter("sub_deadbeef", events.Filter{}) {
		t.Error("update should fail for unknown id")
	}

	r.Publish(makeEvent(events.EventTypeQuizStarted, nil, nil))
	completed := makeEvent(events.EventTypeQuizCompleted, nil, nil)
	r.Publish(completed)

	waitFor(t, func() bool { return len(conn.events()) == 1 }, "subscriber should receive one event")

	if got := conn.events(); got[0].ID != completed.ID {
		t.Errorf("subscriber should only receive events matching the replaced filter, got %s", got[0].Type)
	}
}

func TestRouter_StopWithoutStart(t *testing.T) {
	r := New(Config{}, testLogger())
	r.Stop()
	r.Stop()
}

func TestRouter_StatsSnapshot(t *testing.T) {
	r := New(Config{QueueSize: 8, MaxSubscribers: 8}, testLogger())
	defer r.Stop()

	r.Subscribe(newTestConn(), events.Filter{})
	r.Subscribe(newTestConn(), events.Filter{})
	r.Publish(makeEvent(events.EventTypeQuizStarted, nil, nil))

	stats := r.Stats()
	if stats.ActiveSubscribers != 2 {
		t.Errorf("expected 2 active subscribers, got %d", stats.ActiveSubscribers)
	}
	if stats.QueueSize != 1 {
		t.Errorf("expected queue size 1, got %d", stats.QueueSize)
	}
}

// For any sequence of published events, every subscriber receives
// exactly the subsequence matching its filter, in publish order.
func TestRouter_FilteredDeliveryProperty(t *testing.T) {
	types := []string{
		events.EventTypeQuizStarted,
		events.EventTypeAnswerSubmitted,
		events.EventTypeQuizCompleted,
		events.EventTypeTimerTick,
	}
	sessions := []string{"sess-1", "sess-2", "sess-3"}

	rapid.Check(t, func(t *rapid.T) {
		filterTypes := rapid.SliceOfNDistinct(rapid.SampledFrom(types), 1, 3, rapid.ID[string]).Draw(t, "filterTypes")
		filterSession := rapid.SampledFrom(sessions).Draw(t, "filterSession")
		n := rapid.IntRange(1, 30).Draw(t, "eventCount")

		r := New(Config{QueueSize: 64, MaxSubscribers: 4}, testLogger())
		r.Start()
		defer r.Stop()

		conn := newTestConn()
		filter := events.Filter{EventTypes: filterTypes, SessionID: filterSession}
		if _, ok := r.Subscribe(conn, filter); !ok {
			t.Fatal("subscribe failed")
		}

		var wantIDs []string
		for i := 0; i < n; i++ {
			eventType := rapid.SampledFrom(types).Draw(t, "eventType")
			session := rapid.SampledFrom(sessions).Draw(t, "session")
			ev := makeEvent(eventType, strPtr(session), nil)
			if filter.Matches(ev) {
				wantIDs = append(wantIDs, ev.ID)
			}
			if !r.Publish(ev) {
				t.Fatal("publish should succeed")
			}
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && len(conn.events()) < len(wantIDs) {
			time.Sleep(time.Millisecond)
		}

		got := conn.events()
		if len(got) != len(wantIDs) {
			t.Fatalf("expected %d delivered events, got %d", len(wantIDs), len(got))
		}
		for i, ev := range got {
			if ev.ID != wantIDs[i] {
				t.Fatalf("delivery order mismatch at %d: got %s want %s", i, ev.ID, wantIDs[i])
			}
		}
	})
}
