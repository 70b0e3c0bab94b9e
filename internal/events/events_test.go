package events

import "testing"

func TestBroadcasterDeliversInSubscriptionOrder(t *testing.T) {
	b := NewBroadcaster[int]()
	var got []string
	b.Subscribe(func(v int) { got = append(got, "first") })
	b.Subscribe(func(v int) { got = append(got, "second") })
	b.Publish(1)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected ordered delivery, got %v", got)
	}
}

func TestBroadcasterIsolatesPanickingListener(t *testing.T) {
	b := NewBroadcaster[string]()
	b.Subscribe(func(string) { panic("listener bug") })
	delivered := false
	b.Subscribe(func(string) { delivered = true })
	b.Publish("note")
	if !delivered {
		t.Fatalf("expected later listener to receive event despite earlier panic")
	}
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster[int]()
	count := 0
	cancel := b.Subscribe(func(int) { count++ })
	b.Publish(1)
	cancel()
	b.Publish(2)
	if count != 1 {
		t.Fatalf("expected exactly one delivery, got %d", count)
	}
	if b.Len() != 0 {
		t.Fatalf("expected no remaining subscribers, got %d", b.Len())
	}
}
