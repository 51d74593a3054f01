package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster()
	s1, s2 := b.Subscribe(), b.Subscribe()
	if n := b.Count(); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	s1.Close()
	s1.Close()
	if n := b.Count(); n != 1 {
		t.Fatalf("Count after close = %d, want 1", n)
	}
	if _, ok := <-s1.C; ok {
		t.Error("closed subscription channel should be closed")
	}

	s2.Close()
	if n := b.Count(); n != 0 {
		t.Fatalf("Count = %d, want 0", n)
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster()
	subs := []*Subscription{b.Subscribe(), b.Subscribe()}
	for _, s := range subs {
		defer s.Close()
	}

	b.Publish(Event{Type: EventManifest, Hash: "abc", Files: 3})

	for i, s := range subs {
		select {
		case got := <-s.C:
			if got.Hash != "abc" || got.Files != 3 {
				t.Errorf("subscriber %d got %+v", i, got)
			}
			if got.Timestamp == 0 {
				t.Error("Publish should stamp the event")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestPublishSkipsFullSubscriber(t *testing.T) {
	b := NewBroadcaster()
	s := b.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: EventManifest})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(s.C) != subscriberBuffer {
		t.Errorf("buffer holds %d events, want %d", len(s.C), subscriberBuffer)
	}
}

func TestEventWriteTo(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (Event{Type: EventManifest, Hash: "ff", Timestamp: 1}).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	frame := buf.String()
	if !strings.HasPrefix(frame, "event: manifest\ndata: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("bad frame %q", frame)
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "event: manifest\ndata: "), "\n\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m["hash"] != "ff" {
		t.Errorf("hash = %v", m["hash"])
	}
	if _, ok := m["added"]; ok {
		t.Error("zero counts should be omitted")
	}
}
