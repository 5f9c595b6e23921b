// Package dispatch fans enriched events out to subscriber mailboxes.
//
// Each subscription is a bounded channel. Dispatch blocks while a mailbox is
// full, so a slow subscriber slows the session feeding it instead of growing
// memory. Events from one session arrive in the order Dispatch was called.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/shardline/internal/events"
	"github.com/danmuck/shardline/internal/observability"
)

// All subscribes to every event name.
const All = "*"

const DefaultBuffer = 64

type Subscription struct {
	id     uint64
	name   string
	events chan events.Event
	done   chan struct{}
	d      *Dispatcher

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// Events is closed after Unsubscribe.
func (s *Subscription) Events() <-chan events.Event { return s.events }

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) Close() { s.d.Unsubscribe(s) }

func (s *Subscription) deliver(ctx context.Context, ev events.Event) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, nil
	}
	select {
	case s.events <- ev:
		return true, nil
	case <-s.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Subscription) shut() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]*Subscription

	delivered atomic.Uint64
}

func New() *Dispatcher {
	return &Dispatcher{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a mailbox for name, or for every event when name is
// All or empty.
func (d *Dispatcher) Subscribe(name string, buffer int) *Subscription {
	name = strings.TrimSpace(name)
	if name == "" {
		name = All
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	s := &Subscription{
		id:     d.nextID,
		name:   name,
		events: make(chan events.Event, buffer),
		done:   make(chan struct{}),
		d:      d,
	}
	d.subs[name] = append(d.subs[name], s)
	return s
}

// Unsubscribe removes s and closes its channel. A Dispatch blocked on s is
// released.
func (d *Dispatcher) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	d.mu.Lock()
	list := d.subs[s.name]
	for i, cur := range list {
		if cur.id == s.id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(d.subs, s.name)
	} else {
		d.subs[s.name] = list
	}
	d.mu.Unlock()
	s.shut()
}

// Dispatch hands ev to every matching subscription in subscription order and
// returns how many received it. It stops early only when ctx ends.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) (int, error) {
	d.mu.RLock()
	targets := make([]*Subscription, 0, len(d.subs[ev.Name])+len(d.subs[All]))
	targets = append(targets, d.subs[ev.Name]...)
	targets = append(targets, d.subs[All]...)
	d.mu.RUnlock()

	n := 0
	var err error
	for _, s := range targets {
		var ok bool
		ok, err = s.deliver(ctx, ev)
		if err != nil {
			break
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		d.delivered.Add(uint64(n))
		observability.RecordDeliveries(ev.Name, n)
	}
	return n, err
}

// Delivered counts every mailbox delivery since start.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, list := range d.subs {
		n += len(list)
	}
	return n
}

// Close unsubscribes everyone.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	var all []*Subscription
	for _, list := range d.subs {
		all = append(all, list...)
	}
	d.subs = make(map[string][]*Subscription)
	d.mu.Unlock()
	for _, s := range all {
		s.shut()
	}
}
