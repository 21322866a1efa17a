package web

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"devicetrack/internal/events"
)

func newTestHub() *WSHub {
	return NewWSHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func waitClients(t *testing.T, hub *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Clients() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", hub.Clients(), want)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.unregister <- client
	waitClients(t, hub, 0)
}

func TestWSHubBroadcast(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}
	hub.register <- c1
	hub.register <- c2

	hub.Broadcast(events.Event{Type: events.SiteCreated, Data: map[string]string{"token": "s1"}})

	for i, c := range []*wsClient{c1, c2} {
		select {
		case msg := <-c.send:
			var ev struct {
				Type string            `json:"type"`
				Data map[string]string `json:"data"`
			}
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Type != events.SiteCreated || ev.Data["token"] != "s1" {
				t.Errorf("client %d got %s", i, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d did not receive broadcast", i)
		}
	}
}

func TestWSHubSubscribeFilters(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	c := &wsClient{send: make(chan []byte, 16)}
	c.subscribe([]string{events.StateUpdated})
	hub.register <- c

	hub.Broadcast(events.Event{Type: events.SiteCreated})
	hub.Broadcast(events.Event{Type: events.StateUpdated})

	select {
	case msg := <-c.send:
		var ev events.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != events.StateUpdated {
			t.Errorf("type = %q, want %q", ev.Type, events.StateUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case msg := <-c.send:
		t.Errorf("unexpected extra message %s", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWSClientWants(t *testing.T) {
	c := &wsClient{}
	if !c.wants(events.SiteCreated) {
		t.Error("client without subscription should want everything")
	}
	c.subscribe([]string{events.StateUpdated, events.BatchIngested})
	if c.wants(events.SiteCreated) {
		t.Error("site_created delivered despite subscription")
	}
	if !c.wants(events.BatchIngested) {
		t.Error("batch_ingested filtered out")
	}
	c.subscribe(nil)
	if !c.wants(events.SiteCreated) {
		t.Error("empty subscription should restore everything")
	}
}

func TestWSHubBroadcastNonBlocking(t *testing.T) {
	hub := newTestHub()
	// Hub not running: the queue fills and further broadcasts are dropped.
	for i := 0; i < 256; i++ {
		hub.Broadcast(events.Event{Type: events.StateUpdated})
	}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(events.Event{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	waitClients(t, hub, 1)

	hub.Stop()
	hub.Stop() // idempotent

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("client.send should be closed after hub stop")
		}
	case <-time.After(time.Second):
		t.Error("client.send not closed")
	}
}

func TestWSHubEvictsSlowClient(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte)}
	hub.register <- slow
	waitClients(t, hub, 1)

	hub.Broadcast(events.Event{Type: events.StateUpdated})
	waitClients(t, hub, 0)
}
