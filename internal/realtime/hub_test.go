package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventSessionClosed, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAdmitted, EventRejected},
	}}

	if !h.shouldSend(client, &Event{Type: EventAdmitted}) {
		t.Error("Should receive connection_admitted events")
	}
	if !h.shouldSend(client, &Event{Type: EventRejected}) {
		t.Error("Should receive connection_rejected events")
	}
	if h.shouldSend(client, &Event{Type: EventReceiptIssued}) {
		t.Error("Should NOT receive receipt_issued events")
	}
}

func TestShouldSend_ChannelFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Channels: []string{"0xc1"}}}

	if !h.shouldSend(client, &Event{Type: EventChannelIdle, Data: map[string]interface{}{"channel": "0xc1"}}) {
		t.Error("Should match on channel")
	}
	if h.shouldSend(client, &Event{Type: EventChannelIdle, Data: map[string]interface{}{"channel": "0xc2"}}) {
		t.Error("Should NOT match other channels")
	}
	if h.shouldSend(client, &Event{Type: EventChannelIdle}) {
		t.Error("Events without a channel do not pass a channel filter")
	}
}

func TestShouldSend_PeerFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Peers: []string{"0xp1"}}}

	matchingPeer := &Event{Type: EventAdmitted, Data: map[string]interface{}{"peer": "0xp1"}}
	matchingPayer := &Event{Type: EventReceiptAccepted, Data: map[string]interface{}{"payer": "0xp1", "payee": "0xp2"}}
	matchingPayee := &Event{Type: EventReceiptAccepted, Data: map[string]interface{}{"payer": "0xp3", "payee": "0xp1"}}
	unrelated := &Event{Type: EventReceiptAccepted, Data: map[string]interface{}{"payer": "0xp3", "payee": "0xp4"}}

	if !h.shouldSend(client, matchingPeer) {
		t.Error("Should match on peer")
	}
	if !h.shouldSend(client, matchingPayer) {
		t.Error("Should match on payer")
	}
	if !h.shouldSend(client, matchingPayee) {
		t.Error("Should match on payee")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated peers")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, &Event{Type: EventSessionClosed}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventSessionClosed, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventSessionClosed,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"channel": "0xc1"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_Publish(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Peers: []string{"0xa"}},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Publish(EventReceiptIssued, map[string]interface{}{"payer": "0xa", "payee": "0xb"})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Type != EventReceiptIssued || ev.Data["payee"] != "0xb" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for published event")
	}
}

func TestHub_PublishNilSafe(t *testing.T) {
	var h *Hub
	h.Publish(EventChannelIdle, nil)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants channel_idle
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventChannelIdle}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a session_closed event (should be filtered out)
	h.Broadcast(&Event{Type: EventSessionClosed, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive session_closed event")
	default:
		// Good - filtered out
	}

	// Send a channel_idle event (should be received)
	h.Broadcast(&Event{Type: EventChannelIdle, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive channel_idle event")
	}
}

// ---------------------------------------------------------------------------
// Subscription parsing tests
// ---------------------------------------------------------------------------

func TestSubscriptionFromQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantOK  bool
		wantAll bool
		types   int
		peers   int
	}{
		{"no params", "", true, true, 0, 0},
		{"event types", "?events=receipt_issued,%20receipt_rejected", true, false, 2, 0},
		{"peer filter", "?peer=0xAB,0xcd", true, false, 0, 2},
		{"unknown type", "?events=transaction", false, false, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws"+tt.query, nil)
			sub, ok := subscriptionFromQuery(r)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if sub.AllEvents != tt.wantAll {
				t.Errorf("AllEvents = %v, want %v", sub.AllEvents, tt.wantAll)
			}
			if len(sub.EventTypes) != tt.types {
				t.Errorf("EventTypes = %v, want %d", sub.EventTypes, tt.types)
			}
			if len(sub.Peers) != tt.peers {
				t.Errorf("Peers = %v, want %d", sub.Peers, tt.peers)
			}
		})
	}

	r := httptest.NewRequest("GET", "/ws?peer=0xAB", nil)
	sub, _ := subscriptionFromQuery(r)
	if sub.Peers[0] != "0xab" {
		t.Errorf("Expected lowercased peer, got %q", sub.Peers[0])
	}
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := testHub()

	// Run is not started, so the buffer fills.
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Publish(EventReceiptIssued, nil)
	}

	if got := h.Stats()["droppedEvents"].(int64); got != 3 {
		t.Errorf("Expected 3 dropped events, got %d", got)
	}
}
