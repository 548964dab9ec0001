// Package persist is the persistence pipeline (C2): five independent
// lanes (users, torrents, snatches, peers, tokens), each a buffer filled
// from the request path and a queue of batches drained by one long-lived
// writer goroutine.
//
// Grounded on chihaya's database/queue.go (buffer-then-enqueue shape) and
// database/flush.go (per-lane SQL upserts), and on
// original_source/margay/database.py's buffer/queue/active-flag design,
// but replaces chihaya's respawn-on-demand flush goroutine with a
// permanent worker per lane reading off a signal channel and a shutdown
// context; the not-active flag disappears entirely.
package persist

import (
	"context"
	"sync"

	"privateer/log"
)

// Lane buffers records of type T and flushes them in batches via flushFn.
// DropOldest enables the peer-lane-only backpressure rule of: once the
// queue already holds maxQueue batches, the oldest is dropped before the
// new one is appended.
type Lane[T any] struct {
	mu sync.Mutex
	buffer []T
	queue [][]T

	maxQueue int
	dropOldest bool

	readonly func() bool
	flush func([]T) error

	notify chan struct{}
}

func NewLane[T any](flush func([]T) error, readonly func() bool) *Lane[T] {
	return &Lane[T]{
		readonly: readonly,
		flush: flush,
		notify: make(chan struct{}, 1),
	}
}

// WithBackpressure enables the peer lane's drop-oldest-at-maxQueue policy.
func (l *Lane[T]) WithBackpressure(maxQueue int) *Lane[T] {
	l.maxQueue = maxQueue
	l.dropOldest = true

	return l
}

// Append adds a record to the buffer. Safe for concurrent use from many
// announce/control-plane goroutines.
func (l *Lane[T]) Append(record T) {
	l.mu.Lock()
	l.buffer = append(l.buffer, record)
	l.mu.Unlock()
}

// Tick snapshots a non-empty buffer into the queue and wakes the writer.
// In readonly mode the buffer is cleared without ever reaching the queue
// ("every lane's flush path clears its buffer and returns without
// enqueuing").
func (l *Lane[T]) Tick() {
	l.mu.Lock()

	if len(l.buffer) == 0 {
		pending := len(l.queue) > 0
		l.mu.Unlock()
		if pending {
			select {
			case l.notify <- struct{}{}:
			default:
			}
		}
		return
	}

	batch := l.buffer
	l.buffer = nil

	if l.readonly != nil && l.readonly() {
		l.mu.Unlock()
		return
	}

	if l.dropOldest && l.maxQueue > 0 && len(l.queue) >= l.maxQueue {
		log.Warning.Printf("persist: lane queue exceeds %d batches, dropping oldest", l.maxQueue)
		l.queue = l.queue[1:]
	}

	l.queue = append(l.queue, batch)

	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Lane[T]) popHead() ([]T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}

	return l.queue[0], true
}

func (l *Lane[T]) dropHead() {
	l.mu.Lock()
	l.queue = l.queue[1:]
	l.mu.Unlock()
}

// Run is the lane's writer task: it wakes on Tick's notify, drains the
// queue head-to-tail, and blocks again once empty. A flush error leaves
// the batch at the queue head for the next wake ("Transient persistence
// failure... batch remains at queue head, writer retries on next drain
// cycle").
func (l *Lane[T]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}

		for {
			batch, ok := l.popHead()
			if !ok {
				break
			}

			if err := l.flush(batch); err != nil {
				log.Warning.Printf("persist: flush failed, retrying next cycle: %s", err)
				break
			}

			l.dropHead()
		}
	}
}

// QueueDepth reports the number of un-flushed batches, for metrics.
func (l *Lane[T]) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

// Buffered returns a copy of the records appended since the last Tick,
// without clearing them.
func (l *Lane[T]) Buffered() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.buffer))
	copy(out, l.buffer)

	return out
}
