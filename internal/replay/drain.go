// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/metrics"
)

const DefaultPollInterval = 5 * time.Second

// QueueLengther reports pending mailbox messages and is safe to call while
// messages are being posted and handled.
type QueueLengther interface {
	QueueLength() int
}

// idleNotifier is implemented by agents that can signal an empty mailbox.
type idleNotifier interface {
	Idle() <-chan struct{}
}

// DrainError is returned when the monitor stops before the mailbox drained.
type DrainError struct {
	Remaining int
	Waited    time.Duration
	Err       error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("drain stopped after %s with %d messages unconsumed: %v", e.Waited.Round(time.Millisecond), e.Remaining, e.Err)
}

func (e *DrainError) Unwrap() error {
	return e.Err
}

type DrainMonitor struct {
	queue    QueueLengther
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewDrainMonitor samples queue every interval. A maxWait of zero waits
// forever.
func NewDrainMonitor(queue QueueLengther, interval, maxWait time.Duration, logger *slog.Logger) *DrainMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DrainMonitor{
		queue:    queue,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Wait blocks until the queue length is observed at zero.
//
// Zero pending only means every message was taken off the mailbox and its
// handler returned. Side effects the handler started asynchronously may still
// be in flight; callers accept that approximation.
func (m *DrainMonitor) Wait(ctx context.Context) error {
	started := time.Now()
	defer func() {
		metrics.ObserveDrainDuration(time.Since(started))
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if m.maxWait > 0 {
		timer := time.NewTimer(m.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	notifier, _ := m.queue.(idleNotifier)

	for {
		n := m.queue.QueueLength()
		m.logger.Info("queue length", "queue_length", n)
		if n == 0 {
			return nil
		}

		var idle <-chan struct{}
		if notifier != nil {
			idle = notifier.Idle()
		}

		select {
		case <-ctx.Done():
			return m.stopped(started, ctx.Err())
		case <-deadline:
			return m.stopped(started, domain.ErrDrainTimeout)
		case <-ticker.C:
		case <-idle:
		}
	}
}

// stopped takes one last sample so a mailbox that drained at the same moment
// is not reported as a failure.
func (m *DrainMonitor) stopped(started time.Time, cause error) error {
	remaining := m.queue.QueueLength()
	if remaining == 0 {
		return nil
	}
	m.logger.Warn("drain stopped", "queue_length", remaining, "error", cause)
	return &DrainError{Remaining: remaining, Waited: time.Since(started), Err: cause}
}
