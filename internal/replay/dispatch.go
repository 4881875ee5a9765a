// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ronnieholm/spo-analytics/internal/agent"
	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/metrics"
)

// Poster is the enqueue side of an agent mailbox.
type Poster interface {
	Post(msg agent.Message) error
}

type Dispatcher struct {
	mailbox Poster
	logger  *slog.Logger
}

func NewDispatcher(mailbox Poster, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{mailbox: mailbox, logger: logger}
}

// Dispatch posts each visit, in order, as one message. Posting is
// fire-and-forget; the count of posted messages is returned even on error.
func (d *Dispatcher) Dispatch(ctx context.Context, visits []domain.Visit) (int, error) {
	posted := 0
	for _, v := range visits {
		if err := ctx.Err(); err != nil {
			return posted, err
		}
		if err := d.mailbox.Post(agent.VisitMessage{Visit: v}); err != nil {
			return posted, fmt.Errorf("post visit %s: %w", v.CorrelationID, err)
		}
		posted++
		metrics.IncVisitsDispatched()
	}

	d.logger.Debug("visits dispatched", "count", posted)
	return posted, nil
}
