// SPDX-License-Identifier: Apache-2.0

// Package aggregate implements the agent-side handling of replayed visits.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/agent"
	"github.com/ronnieholm/spo-analytics/internal/domain"
)

// Store persists visits. Implementations: repository.VisitRepository
// (Postgres) and sqlite.Database.
type Store interface {
	SaveVisit(ctx context.Context, v domain.Visit) error
}

type Report struct {
	Visits          int
	Sites           map[string]int
	Logins          map[string]int
	PageLoads       int
	PageLoadTotalMS int64
	First           time.Time
	Last            time.Time
	// OutOfOrder counts visits older than the one received before them.
	OutOfOrder int
}

// AveragePageLoad returns the mean page load time over visits that have one.
func (r Report) AveragePageLoad() time.Duration {
	if r.PageLoads == 0 {
		return 0
	}
	return time.Duration(r.PageLoadTotalMS/int64(r.PageLoads)) * time.Millisecond
}

// Visitor tallies visits and forwards them to a Store. It is meant to be the
// single handler of an agent, so Handle is never called concurrently; Report
// may be called from any goroutine.
type Visitor struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	report Report
}

// NewVisitor returns a Visitor. A nil store only tallies.
func NewVisitor(store Store, logger *slog.Logger) *Visitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Visitor{
		store:  store,
		logger: logger,
		report: Report{
			Sites:  map[string]int{},
			Logins: map[string]int{},
		},
	}
}

func (v *Visitor) Handle(ctx context.Context, msg agent.Message) error {
	vm, ok := msg.(agent.VisitMessage)
	if !ok {
		return fmt.Errorf("unsupported message %s", msg.Kind())
	}
	visit := vm.Visit

	if v.store != nil {
		if err := v.store.SaveVisit(ctx, visit); err != nil {
			return fmt.Errorf("save visit %s: %w", visit.CorrelationID, err)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	r := &v.report
	if r.Visits > 0 && visit.Timestamp.Before(r.Last) {
		r.OutOfOrder++
		v.logger.Warn("visit out of causal order",
			"correlation_id", visit.CorrelationID,
			"timestamp", visit.Timestamp,
			"previous", r.Last,
		)
	}
	if r.Visits == 0 || visit.Timestamp.Before(r.First) {
		r.First = visit.Timestamp
	}
	if visit.Timestamp.After(r.Last) {
		r.Last = visit.Timestamp
	}

	r.Visits++
	r.Sites[visit.SiteCollectionURL]++
	r.Logins[visit.LoginName]++
	if ms, ok := visit.PageLoadTime.Get(); ok {
		r.PageLoads++
		r.PageLoadTotalMS += int64(ms)
	}
	return nil
}

// Report returns a copy of the current tallies.
func (v *Visitor) Report() Report {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.report
	out.Sites = make(map[string]int, len(v.report.Sites))
	for k, n := range v.report.Sites {
		out.Sites[k] = n
	}
	out.Logins = make(map[string]int, len(v.report.Logins))
	for k, n := range v.report.Logins {
		out.Logins[k] = n
	}
	return out
}
