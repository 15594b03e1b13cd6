package dispatch_test

import (
	"testing"

	"github.com/pgnotifyhub/hub/dispatch"
)

func TestMatch_FiltersBySessionAndEvent(t *testing.T) {
	bindings := []dispatch.ChannelBinding{
		{ID: 0, LogicalID: "orders", DispatchID: 111, AllowedEvents: []string{"new_order"}},
		{ID: 1, LogicalID: "shipping", DispatchID: 111, AllowedEvents: []string{"shipped"}},
		{ID: 2, LogicalID: "other_db", DispatchID: 222, AllowedEvents: []string{"new_order"}},
	}

	got := dispatch.Match(bindings, 111, "new_order")
	if got.Len() != 1 || got.Slice()[0] != 0 {
		t.Fatalf("expected only chan 0 to match, got %v", got.Slice())
	}
}

func TestMatch_AllowAllChannel(t *testing.T) {
	bindings := []dispatch.ChannelBinding{
		{ID: 0, LogicalID: "firehose", DispatchID: 111, AllowedEvents: nil},
	}

	got := dispatch.Match(bindings, 111, "anything")
	if got.Len() != 1 || got.Slice()[0] != 0 {
		t.Fatalf("expected allow-all channel to match any event, got %v", got.Slice())
	}
}

func TestMatch_NoMatchWhenSessionDiffers(t *testing.T) {
	bindings := []dispatch.ChannelBinding{
		{ID: 0, LogicalID: "orders", DispatchID: 111, AllowedEvents: nil},
	}

	got := dispatch.Match(bindings, 999, "anything")
	if got.Len() != 0 {
		t.Fatalf("expected no match for different dispatch id, got %v", got.Slice())
	}
}

func TestMatch_UnprocessedEventDropsSilentlyFromMatchSet(t *testing.T) {
	bindings := []dispatch.ChannelBinding{
		{ID: 0, LogicalID: "orders", DispatchID: 111, AllowedEvents: []string{"new_order"}},
	}

	got := dispatch.Match(bindings, 111, "irrelevant")
	if got.Len() != 0 {
		t.Fatalf("expected empty match set for filtered-out event, got %v", got.Slice())
	}
}

func TestMatch_SharedSessionDisjointEvents(t *testing.T) {
	// S5: two channels share a session but have disjoint allowed events;
	// each notification should only match the channel that allows it.
	bindings := []dispatch.ChannelBinding{
		{ID: 0, LogicalID: "a", DispatchID: 42, AllowedEvents: []string{"a"}},
		{ID: 1, LogicalID: "b", DispatchID: 42, AllowedEvents: []string{"b"}},
	}

	gotA := dispatch.Match(bindings, 42, "a")
	if gotA.Len() != 1 || gotA.Slice()[0] != 0 {
		t.Fatalf("expected only channel a to match event 'a', got %v", gotA.Slice())
	}

	gotB := dispatch.Match(bindings, 42, "b")
	if gotB.Len() != 1 || gotB.Slice()[0] != 1 {
		t.Fatalf("expected only channel b to match event 'b', got %v", gotB.Slice())
	}
}
