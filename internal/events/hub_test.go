package events

import (
	"encoding/json"
	"testing"
)

func TestHubFanOutAndDrop(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(MakeEvent("req-1", RunQueued, RunEventVersion, map[string]int{"website_id": 3}))

	for _, ch := range []chan string{a, b} {
		var e Event
		if err := json.Unmarshal([]byte(<-ch), &e); err != nil {
			t.Fatal(err)
		}
		if e.Type != RunQueued || e.Version != 1 || e.RequestID != "req-1" {
			t.Errorf("event = %+v", e)
		}
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a) // second call is a no-op
	if n := h.Subscribers(); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}

	// a full buffer must not block Publish
	for range 100 {
		h.Publish("x")
	}
	h.Unsubscribe(b)
}
