package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

func topicFor(tenant uuid.UUID) string {
	return "opd/" + tenant.String() + "/2024-01-01"
}

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestTopicTenant(t *testing.T) {
	tenant := uuid.New()
	tests := []struct {
		topic string
		ok    bool
	}{
		{topicFor(tenant), true},
		{"opd/" + tenant.String(), true},
		{"opd", false},
		{"opd/not-a-uuid/2024-01-01", false},
		{"", false},
	}
	for _, tt := range tests {
		got, ok := TopicTenant(tt.topic)
		if ok != tt.ok || (ok && got != tenant) {
			t.Errorf("TopicTenant(%q) = %s, %v", tt.topic, got, ok)
		}
	}
}

func TestHub_SubscribeIsTenantScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine, other := uuid.New(), uuid.New()
	c := NewClient(mine)
	hub.Register(c)

	accepted, rejected := hub.Subscribe(c, []string{topicFor(mine), topicFor(other), "garbage"})
	if len(accepted) != 1 || accepted[0] != topicFor(mine) {
		t.Errorf("unexpected accepted %v", accepted)
	}
	if len(rejected) != 2 {
		t.Errorf("expected 2 rejected, got %v", rejected)
	}
	if hub.TopicCount(topicFor(other)) != 0 {
		t.Error("client subscribed to another tenant's topic")
	}
}

func TestHub_SubscribeRequiresRegistration(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	c := NewClient(tenant)

	if accepted, _ := hub.Subscribe(c, []string{topicFor(tenant)}); len(accepted) != 0 {
		t.Error("unregistered client must not subscribe")
	}
}

func TestHub_PublishDeliversToSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	a, b, idle := NewClient(tenant), NewClient(tenant), NewClient(tenant)
	for _, c := range []*Client{a, b, idle} {
		hub.Register(c)
	}
	hub.Subscribe(a, []string{topicFor(tenant)})
	hub.Subscribe(b, []string{topicFor(tenant)})

	ev := Event{Type: "opd.queue.updated", Topic: topicFor(tenant), ResourceType: "opd_visit", ResourceID: "v1"}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, c := range []*Client{a, b} {
		if got := recv(t, c); got.ResourceID != "v1" || got.Type != "opd.queue.updated" {
			t.Errorf("unexpected event %+v", got)
		}
	}
	if len(idle.Send) != 0 {
		t.Error("unsubscribed client received an event")
	}
}

func TestHub_PublishDropsForFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	c := NewClient(tenant)
	hub.Register(c)
	hub.Subscribe(c, []string{topicFor(tenant)})

	for i := 0; i < sendBuffer+5; i++ {
		hub.Publish(context.Background(), Event{Topic: topicFor(tenant)})
	}
	if hub.Dropped() != 5 {
		t.Errorf("expected 5 dropped, got %d", hub.Dropped())
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	c := NewClient(tenant)
	hub.Register(c)
	hub.Subscribe(c, []string{topicFor(tenant)})

	hub.Unsubscribe(c, []string{topicFor(tenant)})
	if hub.TopicCount(topicFor(tenant)) != 0 {
		t.Error("expected no subscribers after unsubscribe")
	}
}

func TestHub_UnregisterClosesSendOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	c := NewClient(tenant)
	hub.Register(c)
	hub.Subscribe(c, []string{topicFor(tenant)})

	hub.Unregister(c)
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
	if hub.ClientCount() != 0 || hub.TopicCount(topicFor(tenant)) != 0 {
		t.Error("expected hub to be empty")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	c := NewClient(tenant)
	hub.Register(c)

	reply := hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{topicFor(tenant), topicFor(uuid.New())}})
	if reply.Type != "subscribed" || len(reply.Topics) != 1 || len(reply.Rejected) != 1 || reply.Message == "" {
		t.Errorf("unexpected reply %+v", reply)
	}
	if reply := hub.ProcessMessage(c, ClientMessage{Action: "ping"}); reply.Type != "pong" {
		t.Errorf("expected pong, got %+v", reply)
	}
	if reply := hub.ProcessMessage(c, ClientMessage{Action: "dance"}); reply.Type != "error" {
		t.Errorf("expected error, got %+v", reply)
	}
}

func TestHub_ConcurrentPublishAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		c := NewClient(tenant)
		hub.Register(c)
		hub.Subscribe(c, []string{topicFor(tenant)})
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), Event{Topic: topicFor(tenant)})
		}()
		go func() {
			defer wg.Done()
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func newTestServer(t *testing.T, hub *Hub, origins []string, tenant uuid.UUID) *httptest.Server {
	t.Helper()
	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(db.WithTenant(c.Request().Context(), tenant)))
			return next(c)
		}
	})
	NewHandler(hub, origins, zerolog.Nop()).RegisterRoutes(g)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	tenant := uuid.New()
	srv := newTestServer(t, hub, []string{"*"}, tenant)

	conn, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{topicFor(tenant), topicFor(uuid.New())}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "subscribed" || len(ack.Topics) != 1 || len(ack.Rejected) != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	hub.Publish(context.Background(), Event{Type: "opd.queue.updated", Topic: topicFor(tenant), ResourceID: "v9"})
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.ResourceID != "v9" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub, []string{"https://hms.example.com"}, uuid.New())

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("expected the upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestHandler_RequiresTenant(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub, []string{"*"}, uuid.Nil)

	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected the upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %v", resp)
	}
}
