// Package bus implements the command and outbound queues, the
// transactional command executor, and the concrete commands that make
// up the regulation and radio-protocol core. It is the glue between
// internal/wire, internal/device, internal/regulation, internal/store
// and internal/ui.
package bus

import (
	"sync"
	"time"

	"github.com/climateguard/climateguard/internal/wire"
)

// CommandQueue is an unbounded, multi-producer/single-consumer FIFO of
// commands. R, U and the executor itself (for re-enqueue) all produce;
// only the executor consumes.
type CommandQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Command
}

func NewCommandQueue() *CommandQueue {
	q := &CommandQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends cmd and wakes one waiting consumer.
func (q *CommandQueue) Enqueue(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks for up to timeout for the next command. It returns
// (nil, false) on timeout.
func (q *CommandQueue) Pop(timeout time.Duration) (Command, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd, true
}

// OutboundQueue is an unbounded, multi-producer (the executor)
// single-consumer (R) FIFO of wire frames awaiting transmission.
type OutboundQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []wire.Frame
}

func NewOutboundQueue() *OutboundQueue {
	q := &OutboundQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue implements device.Outbound.
func (q *OutboundQueue) Enqueue(f wire.Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks for up to timeout for the next frame. It returns
// (wire.Frame{}, false) on timeout.
func (q *OutboundQueue) Pop(timeout time.Duration) (wire.Frame, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Frame{}, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}
