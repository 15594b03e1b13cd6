package broadcast_test

import (
	"testing"

	"github.com/pgnotifyhub/hub/broadcast"
	"github.com/pgnotifyhub/hub/dispatch"
	"github.com/pgnotifyhub/hub/values"
)

func eventFor(id string, name string, payload string, chans ...dispatch.ChanID) dispatch.Event {
	var v values.Values[dispatch.ChanID]
	for _, c := range chans {
		v.Append(c)
	}
	return dispatch.Event{ID: id, EventName: name, Payload: payload, Channels: v}
}

func TestBroadcaster_SimpleFanOut(t *testing.T) {
	b := broadcast.New(4)
	client := b.Subscribe(0, "orders", "", "127.0.0.1", "")

	b.Broadcast(eventFor("u-1", "new_order", "o-42", 0))

	select {
	case f := <-client.Frames():
		if f.ID != "u-1" || f.Event != "new_order" || f.Payload != "o-42" {
			t.Fatalf("unexpected frame: %+v", f)
		}
	default:
		t.Fatal("expected a frame to be queued for the subscriber")
	}
}

func TestBroadcaster_SharedSessionDisjointEvents(t *testing.T) {
	b := broadcast.New(4)
	clientA := b.Subscribe(0, "a", "", "", "")
	clientB := b.Subscribe(1, "b", "", "", "")

	b.Broadcast(eventFor("u-1", "a", "pa", 0))

	select {
	case f := <-clientA.Frames():
		if f.Payload != "pa" {
			t.Fatalf("unexpected payload for client A: %q", f.Payload)
		}
	default:
		t.Fatal("expected client A to receive the event")
	}

	select {
	case f := <-clientB.Frames():
		t.Fatalf("client B should not have received a frame, got %+v", f)
	default:
	}
}

func TestBroadcaster_ReapsFailedClientAfterBufferFull(t *testing.T) {
	b := broadcast.New(1)
	client := b.Subscribe(0, "orders", "", "", "")

	// Fill the client's one-slot buffer without draining it, then
	// broadcast twice: the second send finds the buffer full and fails,
	// reaping the client.
	b.Broadcast(eventFor("u-1", "new_order", "first", 0))
	b.Broadcast(eventFor("u-2", "new_order", "second", 0))

	if got := b.Count(0); got != 0 {
		t.Fatalf("expected client to be reaped after a failed send, count=%d", got)
	}

	// A further notification should produce no error and no sends.
	b.Broadcast(eventFor("u-3", "new_order", "third", 0))
}

func TestBroadcaster_PendingSubscriptionArrivesNextCycle(t *testing.T) {
	b := broadcast.New(4)

	// Subscribe without an intervening broadcast: client sits in pending.
	client := b.Subscribe(0, "orders", "", "", "")
	if got := b.Count(0); got != 1 {
		t.Fatalf("expected pending subscriber to be counted, got %d", got)
	}

	b.Broadcast(eventFor("u-1", "new_order", "payload", 0))

	select {
	case f := <-client.Frames():
		if f.Payload != "payload" {
			t.Fatalf("unexpected payload: %q", f.Payload)
		}
	default:
		t.Fatal("expected the pending subscriber to receive the event once drained")
	}
}

func TestBroadcaster_UnsubscribeRemovesClient(t *testing.T) {
	b := broadcast.New(4)
	client := b.Subscribe(0, "orders", "", "", "")
	b.Broadcast(eventFor("u-1", "new_order", "x", 0)) // drains into subs

	b.Unsubscribe(client)

	if got := b.Count(0); got != 0 {
		t.Fatalf("expected 0 subscribers after Unsubscribe, got %d", got)
	}
}
