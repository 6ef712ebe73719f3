package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishDeliversInOrder(t *testing.T) {
	b := New(nil)
	ch, unsubscribe := b.Subscribe("sub1")
	defer unsubscribe()

	b.Publish(Event{Kind: KindPacketReceived, CallID: "c1", Sequence: 0})
	b.Publish(Event{Kind: KindPacketReceived, CallID: "c1", Sequence: 1})
	b.Publish(Event{Kind: KindStateChanged, CallID: "c1", ToState: "COMPLETED"})

	for i, want := range []Kind{KindPacketReceived, KindPacketReceived, KindStateChanged} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Fatalf("event %d: expected kind %s, got %s", i, want, evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d: timed out waiting for delivery", i)
		}
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	b := New(nil)
	ch1, unsub1 := b.Subscribe("sub1")
	ch2, unsub2 := b.Subscribe("sub2")
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Kind: KindAICompleted, CallID: "c1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.CallID != "c1" {
				t.Fatalf("expected call c1, got %s", evt.CallID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	ch, unsubscribe := b.Subscribe("sub1")
	unsubscribe()

	b.Publish(Event{Kind: KindStateChanged, CallID: "c1"})

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestBus_SlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	var mu sync.Mutex
	var dropped []string
	b := New(func(id string, pending int) {
		mu.Lock()
		dropped = append(dropped, id)
		mu.Unlock()
	})

	_, unsubSlow := b.Subscribe("slow")
	defer unsubSlow()
	fast, unsubFast := b.Subscribe("fast")
	defer unsubFast()

	// Never drain `slow`. Publish more than its buffer can hold; this must
	// not block even though nobody is reading from `slow`. `fast` is read
	// after every publish so it never falls behind.
	done := make(chan struct{})
	count := 0
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(Event{Kind: KindPacketReceived, CallID: "c1", Sequence: i})
			if _, ok := <-fast; ok {
				count++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Drain fast to confirm it kept receiving throughout.
loop:
	for {
		select {
		case _, ok := <-fast:
			if !ok {
				break loop
			}
			count++
		case <-time.After(100 * time.Millisecond):
			break loop
		}
	}
	if count == 0 {
		t.Fatal("expected fast subscriber to receive events")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, id := range dropped {
		if id == "slow" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected slow subscriber to be reported dropped, got %v", dropped)
	}

	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 remaining subscriber after drop, got %d", b.SubscriberCount())
	}
}

func TestBus_ResubscribeSameIDClosesOld(t *testing.T) {
	b := New(nil)
	first, _ := b.Subscribe("dup")
	second, unsub := b.Subscribe("dup")
	defer unsub()

	_, ok := <-first
	if ok {
		t.Fatal("expected first subscription channel closed on resubscribe")
	}

	b.Publish(Event{Kind: KindAIFailed, CallID: "c1"})
	select {
	case evt := <-second:
		if evt.Kind != KindAIFailed {
			t.Fatalf("expected ai_failed, got %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery on new subscription")
	}
}
