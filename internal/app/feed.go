package app

import (
	"context"
	"sync"

	"wedding-bet-service/internal/domain"
)

// Feed fans collection changes out to in-process subscribers.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Change]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]map[chan domain.Change]struct{})}
}

// Subscribe returns a channel that receives changes to a collection.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(collection string) (<-chan domain.Change, func()) {
	ch := make(chan domain.Change, 8)

	f.mu.Lock()
	subs, ok := f.subscribers[collection]
	if !ok {
		subs = make(map[chan domain.Change]struct{})
		f.subscribers[collection] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subscribers[collection]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(f.subscribers, collection)
		}
	}
	return ch, cancel
}

// Watch invokes fn for every change to collection until cancel is called.
func (f *Feed) Watch(collection string, fn func(domain.Change)) (cancel func()) {
	ch, unsubscribe := f.Subscribe(collection)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for change := range ch {
			fn(change)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// Publish implements Notifier.
func (f *Feed) Publish(_ context.Context, change domain.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[change.Collection] {
		select {
		case ch <- change:
		default:
			// Slow subscriber: drop the oldest pending change instead of blocking.
			select {
			case <-ch:
			default:
			}
			ch <- change
		}
	}
}

// Subscribers reports how many watchers a collection has.
func (f *Feed) Subscribers(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[collection])
}
