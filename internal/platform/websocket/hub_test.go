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

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const topic = "queue/7/3/2026-10-16"

func newClient(id, tenant string, topics ...string) *Client {
	return &Client{ID: id, Tenant: tenant, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1", "acme", topic)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("acme", topic) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount("acme", topic))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("acme", topic) != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastIsTenantScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	acme := newClient("a", "acme", topic)
	other := newClient("b", "other", topic)
	hub.Register(acme)
	hub.Register(other)

	hub.Broadcast("acme", Event{Type: "queue.updated", Topic: topic})

	select {
	case msg := <-acme.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Topic != topic {
			t.Fatalf("expected topic %s, got %s", topic, ev.Topic)
		}
	default:
		t.Fatal("expected acme subscriber to receive the event")
	}
	select {
	case <-other.Send:
		t.Fatal("other tenant must not receive acme's event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast("acme", Event{Topic: "queue/none"})
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Tenant: "acme", Topics: []string{topic}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast("acme", Event{Topic: topic, Type: "first"})
	hub.Broadcast("acme", Event{Topic: topic, Type: "second"})

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c", "acme")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{topic, "queue/7/all/2026-10-16"}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{topic}})
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 distinct topics, got %v", client.Topics)
	}
	if hub.TopicCount("acme", "queue/7/all/2026-10-16") != 1 {
		t.Fatal("expected all-clinics subscription")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{topic}})
	if hub.TopicCount("acme", topic) != 0 {
		t.Fatal("expected clinic topic to be empty after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "queue/7/all/2026-10-16" {
		t.Fatalf("unexpected remaining topics %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	if len(client.Topics) != 1 {
		t.Fatal("unknown action must not change subscriptions")
	}
}

func TestHub_PublishEncodesPayload(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c", "acme", topic)
	hub.Register(client)

	payload := map[string]int{"current_number": 4}
	if err := hub.Publish(context.Background(), "acme", topic, "queue.updated", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "queue.updated" || ev.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
	var got map[string]int
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got["current_number"] != 4 {
		t.Fatalf("expected current_number 4, got %v", got)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", "acme", topic)
			hub.Register(c)
			hub.Broadcast("acme", Event{Topic: topic})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://desk.example.com")

	if !originChecker(nil)(req) {
		t.Fatal("empty list must allow any origin")
	}
	if !originChecker([]string{"https://desk.example.com"})(req) {
		t.Fatal("listed origin must be allowed")
	}
	if originChecker([]string{"https://other.example.com"})(req) {
		t.Fatal("unlisted origin must be refused")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, nil)

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("tenant_id", "acme")
			return next(c)
		}
	})
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topic=" + topic
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("acme", topic) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not subscribed from the query string")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"queue/7/all/2026-10-16"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	for hub.TopicCount("acme", "queue/7/all/2026-10-16") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscribe message was not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), "acme", topic, "queue.updated", map[string]string{"phase": "active"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "queue.updated" || received.Topic != topic {
		t.Fatalf("unexpected event %+v", received)
	}
}
