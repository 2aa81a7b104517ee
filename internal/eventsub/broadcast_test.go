package eventsub

import (
	"fmt"
	"sync"
	"testing"
)

func testEvent(id string) Event {
	return Event{MessageID: id, Type: "channel.ban", Version: "1", Data: ChannelBan{}}
}

func TestHub_EveryConsumerSeesEveryEvent(t *testing.T) {
	b := NewHub()
	first, unsubFirst := b.Subscribe(8)
	second, unsubSecond := b.Subscribe(8)
	defer unsubFirst()
	defer unsubSecond()

	for i := range 5 {
		if dropped := b.Publish(testEvent(fmt.Sprint(i))); dropped != 0 {
			t.Fatalf("Publish() dropped %d, want 0", dropped)
		}
	}
	for _, ch := range []<-chan Event{first, second} {
		for i := range 5 {
			got := <-ch
			if got.MessageID != fmt.Sprint(i) {
				t.Fatalf("event %d = %q, want %q", i, got.MessageID, fmt.Sprint(i))
			}
		}
	}
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	b := NewHub()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	dropped := 0
	for i := range 5 {
		dropped += b.Publish(testEvent(fmt.Sprint(i)))
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	if got := (<-ch).MessageID; got != "3" {
		t.Fatalf("first queued = %q, want 3", got)
	}
	if got := (<-ch).MessageID; got != "4" {
		t.Fatalf("second queued = %q, want 4", got)
	}
}

func TestHub_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	b := NewHub()
	_, unsubSlow := b.Subscribe(1)
	defer unsubSlow()
	fast, unsubFast := b.Subscribe(100)
	defer unsubFast()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 100 {
			b.Publish(testEvent(fmt.Sprint(i)))
		}
	}()
	wg.Wait()

	if len(fast) != 100 {
		t.Fatalf("fast consumer queued %d, want 100", len(fast))
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	b := NewHub()
	ch, unsub := b.Subscribe(0)
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers())
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}

	other, _ := b.Subscribe(0)
	b.Close()
	b.Close()
	if _, ok := <-other; ok {
		t.Fatal("channel open after Close")
	}
	if dropped := b.Publish(testEvent("late")); dropped != 0 || b.Subscribers() != 0 {
		t.Fatalf("Publish after Close dropped %d with %d subscribers", dropped, b.Subscribers())
	}
	late, _ := b.Subscribe(0)
	if _, ok := <-late; ok {
		t.Fatal("Subscribe after Close returned an open channel")
	}
}
