// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/agent"
	"github.com/ronnieholm/spo-analytics/internal/domain"
)

type fakeStore struct {
	saved []domain.Visit
	err   error
}

func (f *fakeStore) SaveVisit(_ context.Context, v domain.Visit) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, v)
	return nil
}

type otherMessage struct{}

func (otherMessage) Kind() string { return "other" }

var t0 = time.Date(2016, 8, 1, 18, 0, 0, 0, time.UTC)

func msg(offset time.Duration, site, login string, pageLoad domain.Optional[int]) agent.VisitMessage {
	return agent.VisitMessage{Visit: domain.Visit{
		Timestamp:         t0.Add(offset),
		SiteCollectionURL: site,
		LoginName:         login,
		PageLoadTime:      pageLoad,
	}}
}

func newTestVisitor(store Store) *Visitor {
	return NewVisitor(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVisitorTalliesAndStores(t *testing.T) {
	store := &fakeStore{}
	v := newTestVisitor(store)
	ctx := context.Background()

	msgs := []agent.VisitMessage{
		msg(0, "hr", "alice", domain.Some(1000)),
		msg(time.Minute, "hr", "bob", domain.None[int]()),
		msg(2*time.Minute, "sales", "alice", domain.Some(0)),
	}
	for _, m := range msgs {
		if err := v.Handle(ctx, m); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	r := v.Report()
	if r.Visits != 3 || len(store.saved) != 3 {
		t.Fatalf("expected 3 visits, got %d (%d stored)", r.Visits, len(store.saved))
	}
	if r.Sites["hr"] != 2 || r.Sites["sales"] != 1 {
		t.Fatalf("unexpected site tallies %v", r.Sites)
	}
	if r.Logins["alice"] != 2 {
		t.Fatalf("unexpected login tallies %v", r.Logins)
	}
	if r.PageLoads != 2 || r.PageLoadTotalMS != 1000 {
		t.Fatalf("expected present zero to count as a page load, got %d loads %d ms", r.PageLoads, r.PageLoadTotalMS)
	}
	if r.AveragePageLoad() != 500*time.Millisecond {
		t.Fatalf("unexpected average %s", r.AveragePageLoad())
	}
	if !r.First.Equal(t0) || !r.Last.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected range %s - %s", r.First, r.Last)
	}
	if r.OutOfOrder != 0 {
		t.Fatalf("expected no out-of-order visits, got %d", r.OutOfOrder)
	}
}

func TestVisitorDetectsOutOfOrder(t *testing.T) {
	v := newTestVisitor(nil)
	ctx := context.Background()

	_ = v.Handle(ctx, msg(time.Minute, "hr", "a", domain.None[int]()))
	_ = v.Handle(ctx, msg(0, "hr", "b", domain.None[int]()))

	r := v.Report()
	if r.OutOfOrder != 1 {
		t.Fatalf("expected 1 out-of-order visit, got %d", r.OutOfOrder)
	}
	if !r.First.Equal(t0) {
		t.Fatalf("expected first %s, got %s", t0, r.First)
	}
}

func TestVisitorStoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	v := newTestVisitor(&fakeStore{err: boom})

	err := v.Handle(context.Background(), msg(0, "hr", "a", domain.None[int]()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if v.Report().Visits != 0 {
		t.Fatal("expected failed visit not to be tallied")
	}
}

func TestVisitorRejectsUnknownMessage(t *testing.T) {
	v := newTestVisitor(nil)
	if err := v.Handle(context.Background(), otherMessage{}); err == nil {
		t.Fatal("expected unsupported message error")
	}
}

func TestReportIsACopy(t *testing.T) {
	v := newTestVisitor(nil)
	_ = v.Handle(context.Background(), msg(0, "hr", "a", domain.None[int]()))

	r := v.Report()
	r.Sites["hr"] = 100
	if v.Report().Sites["hr"] != 1 {
		t.Fatal("expected report maps to be copied")
	}
}
