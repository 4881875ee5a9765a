// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ronnieholm/spo-analytics/internal/metrics"
)

var ErrClosed = errors.New("agent closed")

type Deps struct {
	Handler Handler
	Logger  *slog.Logger
}

// Agent is a single-consumer mailbox processor. Posting never blocks; one
// worker goroutine (Run) handles messages strictly in arrival order.
type Agent struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	queue   []Message
	pending int
	closed  bool
	idle    chan struct{}

	wake chan struct{}
}

func New(deps Deps) *Agent {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	h := deps.Handler
	if h == nil {
		h = HandlerFunc(func(context.Context, Message) error { return nil })
	}

	idle := make(chan struct{})
	close(idle)

	return &Agent{
		handler: h,
		logger:  l,
		idle:    idle,
		wake:    make(chan struct{}, 1),
	}
}

// Post enqueues msg without blocking.
func (a *Agent) Post(msg Message) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.queue = append(a.queue, msg)
	if a.pending == 0 {
		a.idle = make(chan struct{})
	}
	a.pending++
	metrics.SetAgentQueueLength(a.pending)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueLength reports messages posted but not yet fully handled, including
// the one currently being processed.
func (a *Agent) QueueLength() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Idle returns a channel that is closed once QueueLength drops to zero. A new
// channel is handed out after the next Post.
func (a *Agent) Idle() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle
}

// Close stops accepting messages. Run returns after the queue is empty.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run processes messages until Close has been called and the queue is empty,
// or until ctx is done. Messages still queued on cancellation stay counted in
// QueueLength.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started")
	for {
		msg, ok := a.next()
		if !ok {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				a.logger.Info("agent stopped")
				return nil
			}

			select {
			case <-ctx.Done():
				a.logger.Warn("agent cancelled", "queue_length", a.QueueLength())
				return ctx.Err()
			case <-a.wake:
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			a.requeue(msg)
			a.logger.Warn("agent cancelled", "queue_length", a.QueueLength())
			return err
		}

		a.process(ctx, msg)
	}
}

func (a *Agent) next() (Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil, false
	}
	msg := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]
	return msg, true
}

func (a *Agent) requeue(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append([]Message{msg}, a.queue...)
}

func (a *Agent) process(ctx context.Context, msg Message) {
	err := a.safeHandle(ctx, msg)
	if err != nil {
		a.logger.Error("message handling failed", "kind", msg.Kind(), "error", err)
		metrics.IncAgentMessages("failed")
	} else {
		metrics.IncAgentMessages("processed")
	}

	a.mu.Lock()
	a.pending--
	if a.pending == 0 {
		close(a.idle)
	}
	metrics.SetAgentQueueLength(a.pending)
	a.mu.Unlock()
}

func (a *Agent) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return a.handler.Handle(ctx, msg)
}
