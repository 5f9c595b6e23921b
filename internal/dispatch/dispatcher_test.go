package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/events"
	"github.com/danmuck/shardline/internal/testutil/testlog"
)

func ev(name string, seq int64) events.Event {
	return events.Event{Name: name, Sequence: seq}
}

func TestDispatchPreservesOrderPerSubscription(t *testing.T) {
	testlog.Start(t)
	d := New()
	sub := d.Subscribe(events.ChannelCreate, 16)

	for i := int64(1); i <= 10; i++ {
		n, err := d.Dispatch(context.Background(), ev(events.ChannelCreate, i))
		if err != nil || n != 1 {
			t.Fatalf("dispatch %d: n=%d err=%v", i, n, err)
		}
	}
	for i := int64(1); i <= 10; i++ {
		got := <-sub.Events()
		if got.Sequence != i {
			t.Fatalf("out of order: want %d got %d", i, got.Sequence)
		}
	}
	if d.Delivered() != 10 {
		t.Fatalf("expected 10 deliveries, got %d", d.Delivered())
	}
}

func TestDispatchMatchesNameAndAll(t *testing.T) {
	testlog.Start(t)
	d := New()
	named := d.Subscribe(events.GuildCreate, 4)
	other := d.Subscribe(events.GuildDelete, 4)
	all := d.Subscribe("", 4)
	if all.Name() != All {
		t.Fatalf("empty name should subscribe to all, got %q", all.Name())
	}

	n, err := d.Dispatch(context.Background(), ev(events.GuildCreate, 1))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deliveries, got n=%d err=%v", n, err)
	}
	if len(named.Events()) != 1 || len(all.Events()) != 1 || len(other.Events()) != 0 {
		t.Fatalf("unexpected mailbox sizes named=%d all=%d other=%d",
			len(named.Events()), len(all.Events()), len(other.Events()))
	}
	if n, _ := d.Dispatch(context.Background(), ev("TYPING_START", 2)); n != 1 {
		t.Fatalf("expected only the catch-all subscriber, got %d", n)
	}
}

func TestDispatchBlocksOnFullMailboxUntilCancelled(t *testing.T) {
	testlog.Start(t)
	d := New()
	d.Subscribe(events.Ready, 1)

	if _, err := d.Dispatch(context.Background(), ev(events.Ready, 1)); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	n, err := d.Dispatch(ctx, ev(events.Ready, 2))
	if !errors.Is(err, context.DeadlineExceeded) || n != 0 {
		t.Fatalf("expected deadline exceeded with no delivery, got n=%d err=%v", n, err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("dispatch returned before the mailbox had room")
	}
}

func TestDispatchResumesWhenConsumerDrains(t *testing.T) {
	testlog.Start(t)
	d := New()
	sub := d.Subscribe(events.Ready, 1)
	d.Dispatch(context.Background(), ev(events.Ready, 1))

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), ev(events.Ready, 2))
		done <- err
	}()
	select {
	case <-done:
		t.Fatalf("dispatch should wait for room")
	case <-time.After(50 * time.Millisecond):
	}
	<-sub.Events()
	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := <-sub.Events(); got.Sequence != 2 {
		t.Fatalf("expected seq 2, got %d", got.Sequence)
	}
}

func TestUnsubscribeReleasesBlockedDispatch(t *testing.T) {
	testlog.Start(t)
	d := New()
	sub := d.Subscribe(events.Ready, 1)
	d.Dispatch(context.Background(), ev(events.Ready, 1))

	done := make(chan int, 1)
	go func() {
		n, _ := d.Dispatch(context.Background(), ev(events.Ready, 2))
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	sub.Close()

	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("expected no delivery to a closed subscription, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch still blocked after unsubscribe")
	}
	for range sub.Events() {
	}
	if d.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", d.Subscribers())
	}
	sub.Close()
}

func TestCloseShutsEverySubscription(t *testing.T) {
	testlog.Start(t)
	d := New()
	a := d.Subscribe(events.Ready, 1)
	b := d.Subscribe(All, 1)
	d.Close()
	if _, ok := <-a.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if _, ok := <-b.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if n, err := d.Dispatch(context.Background(), ev(events.Ready, 1)); n != 0 || err != nil {
		t.Fatalf("dispatch after close: n=%d err=%v", n, err)
	}
}
