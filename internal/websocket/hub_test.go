package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func waitSubscribers(t *testing.T, h *Hub, projectID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.Subscribers(projectID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers for %s, got %d", want, projectID, h.Subscribers(projectID))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNotifyReachesProjectSubscribers(t *testing.T) {
	h := startHub(t)

	watcher := &Client{ProjectID: "p1", Send: make(chan []byte, 4)}
	other := &Client{ProjectID: "p2", Send: make(chan []byte, 4)}
	h.Register(watcher)
	h.Register(other)
	waitSubscribers(t, h, "p1", 1)

	h.Notify("p1", model.WSTypeSegment, model.WSSegmentData{SegmentID: "s1", Status: model.SegmentCompleted})

	select {
	case raw := <-watcher.Send:
		var msg struct {
			Type      string              `json:"type"`
			ProjectID string              `json:"projectId"`
			Data      model.WSSegmentData `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != model.WSTypeSegment || msg.ProjectID != "p1" || msg.Data.SegmentID != "s1" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	select {
	case raw := <-other.Send:
		t.Errorf("other project received %s", raw)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := startHub(t)

	c := &Client{ProjectID: "p1", Send: make(chan []byte, 1)}
	h.Register(c)
	waitSubscribers(t, h, "p1", 1)
	h.Unregister(c)
	waitSubscribers(t, h, "p1", 0)

	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := startHub(t)

	c := &Client{ProjectID: "p1", Send: make(chan []byte)}
	h.Register(c)
	waitSubscribers(t, h, "p1", 1)

	h.Notify("p1", model.WSTypeRender, model.WSRenderData{RenderID: "r1"})
	waitSubscribers(t, h, "p1", 0)
}

func TestNotifyWithoutSubscribersDoesNotBlock(t *testing.T) {
	h := NewHub()

	done := make(chan struct{})
	go func() {
		// Run is not started; the buffer absorbs and then drops events.
		for i := 0; i < 300; i++ {
			h.Notify("p1", model.WSTypeRender, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}

func TestStoppedHubDoesNotBlockSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()

	registered := &Client{ProjectID: "p1", Send: make(chan []byte, 1)}
	h.Register(registered)
	waitSubscribers(t, h, "p1", 1)
	h.Stop()

	late := &Client{ProjectID: "p1", Send: make(chan []byte, 1)}
	done := make(chan struct{})
	go func() {
		h.Register(late)
		h.Unregister(late)
		h.Unregister(registered)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Register/Unregister blocked after Stop")
	}

	for _, c := range []*Client{registered, late} {
		select {
		case _, ok := <-c.Send:
			if ok {
				t.Error("expected Send to be closed")
			}
		case <-time.After(time.Second):
			t.Fatal("Send left open after Stop")
		}
	}
}
