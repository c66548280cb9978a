package messaging

import (
	"context"
	"sync"
)

// Log is an in-process append-only event log with replay. It stands in
// for the external ordered transaction log: offsets are assigned in
// publish order, entries are never mutated, and subscribers replay from
// any offset before tailing live events.
type Log struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
}

// NewLog creates an empty log.
func NewLog() *Log {
	l := &Log{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Publish appends the event and assigns its offset. Offsets are 1-based.
func (l *Log) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	event.Offset = uint64(len(l.events)) + 1
	l.events = append(l.events, event)
	l.mu.Unlock()

	l.cond.Broadcast()
	return nil
}

// Len returns the number of published events.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

// Events returns a copy of the entries with offset >= from.
func (l *Log) Events(from uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if from < 1 {
		from = 1
	}
	if from > uint64(len(l.events)) {
		return nil
	}
	out := make([]Event, uint64(len(l.events))-from+1)
	copy(out, l.events[from-1:])
	return out
}

// Subscribe returns a channel that delivers every event with offset >=
// from, then blocks for new events. The channel is closed when ctx is
// cancelled. Slow consumers block the delivery goroutine, never the log.
func (l *Log) Subscribe(ctx context.Context, from uint64) <-chan Event {
	if from < 1 {
		from = 1
	}
	ch := make(chan Event, 64)

	// Wake the waiter when the subscriber goes away. The broadcast must
	// hold the lock: unlocked it could land between the waiter's ctx
	// check and its cond.Wait and be missed, leaving the waiter blocked
	// until the next publish.
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	}()

	go func() {
		defer close(ch)
		next := from
		for {
			l.mu.Lock()
			for next > uint64(len(l.events)) && ctx.Err() == nil {
				l.cond.Wait()
			}
			if ctx.Err() != nil {
				l.mu.Unlock()
				return
			}
			event := l.events[next-1]
			l.mu.Unlock()

			select {
			case ch <- event:
				next++
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
