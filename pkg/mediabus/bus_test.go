package mediabus

import (
	"errors"
	"testing"
)

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	bus := New(4)
	a, err := bus.Subscribe("a")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	b, err := bus.Subscribe("b")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if err := bus.Publish([]byte("packet")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, sub := range []*Subscription{a, b} {
		if got := string(<-sub.C); got != "packet" {
			t.Fatalf("%s received %q", sub.ID, got)
		}
	}
	if stats := bus.Stats(); stats.Published != 1 || stats.Subscribers != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	bus := New(1)
	slow, _ := bus.Subscribe("slow")

	for i := 0; i < 3; i++ {
		if err := bus.Publish([]byte{byte(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := <-slow.C; got[0] != 0 {
		t.Fatalf("expected oldest packet kept, got %v", got)
	}
	if dropped := bus.Stats().Dropped["slow"]; dropped != 2 {
		t.Fatalf("expected 2 drops, got %d", dropped)
	}
}

func TestBusSubscribeErrors(t *testing.T) {
	t.Parallel()

	bus := New(1)
	if _, err := bus.Subscribe("x"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe("x"); !errors.Is(err, ErrSubscriberExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	bus.Close()
	bus.Close()
	if _, err := bus.Subscribe("y"); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := bus.Publish([]byte("late")); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := New(2)
	sub, _ := bus.Subscribe("enc")
	bus.Unsubscribe("enc")
	bus.Unsubscribe("enc")

	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
	if err := bus.Publish([]byte("after")); err != nil {
		t.Fatalf("publish without subscribers: %v", err)
	}
}

func TestBusReplaysGapToNextSubscriber(t *testing.T) {
	t.Parallel()

	bus := New(4)
	first, _ := bus.Subscribe("segment-1")
	_ = bus.Publish([]byte("a"))
	bus.Unsubscribe("segment-1")

	_ = bus.Publish([]byte("b"))
	_ = bus.Publish([]byte("c"))
	if stats := bus.Stats(); stats.Backlog != 2 {
		t.Fatalf("expected 2 packets held for the next subscriber, got %+v", stats)
	}

	second, err := bus.Subscribe("segment-2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = bus.Publish([]byte("d"))

	if got := string(<-first.C); got != "a" {
		t.Fatalf("first subscriber received %q", got)
	}
	var got string
	for i := 0; i < 3; i++ {
		got += string(<-second.C)
	}
	if got != "bcd" {
		t.Fatalf("expected gap packets replayed in order, got %q", got)
	}
	if stats := bus.Stats(); stats.Backlog != 0 || stats.Published != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBusBacklogKeepsNewest(t *testing.T) {
	t.Parallel()

	bus := New(2)
	for i := 0; i < 5; i++ {
		_ = bus.Publish([]byte{byte(i)})
	}
	if stats := bus.Stats(); stats.Backlog != 2 || stats.Overflow != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	sub, _ := bus.Subscribe("late")
	if got := <-sub.C; got[0] != 3 {
		t.Fatalf("expected newest backlog packets, got %v", got)
	}
	if got := <-sub.C; got[0] != 4 {
		t.Fatalf("expected newest backlog packets, got %v", got)
	}
}
