// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ronnieholm/spo-analytics/internal/domain"
)

type VisitRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewVisitRepository(pool *pgxpool.Pool, logger *slog.Logger) *VisitRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &VisitRepository{
		pool:   pool,
		logger: logger,
	}
}

// SaveVisit inserts v. Replaying the same dump twice is harmless: a visit
// with an existing correlation id and timestamp is ignored.
func (r *VisitRepository) SaveVisit(ctx context.Context, v domain.Visit) error {
	var pageLoad *int
	if ms, ok := v.PageLoadTime.Get(); ok {
		pageLoad = &ms
	}
	var userAgent *string
	if ua, ok := v.UserAgent.Get(); ok {
		userAgent = &ua
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO visits (
			correlation_id,
			visited_at,
			login_name,
			site_collection_url,
			visit_url,
			page_load_time_ms,
			source_address,
			user_agent
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (correlation_id, visited_at) DO NOTHING
	`,
		v.CorrelationID,
		v.Timestamp,
		v.LoginName,
		v.SiteCollectionURL,
		v.VisitURL,
		pageLoad,
		v.SourceAddress,
		userAgent,
	)
	if err != nil {
		r.logger.Error("insert visit failed",
			"correlation_id", v.CorrelationID,
			"visited_at", v.Timestamp,
			"error", err,
		)
		return err
	}

	if tag.RowsAffected() == 0 {
		r.logger.Debug("visit already stored",
			"correlation_id", v.CorrelationID,
			"visited_at", v.Timestamp,
		)
	}
	return nil
}

// CountVisits returns the number of stored visits in [from, to).
func (r *VisitRepository) CountVisits(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM visits
		WHERE visited_at >= $1
		  AND visited_at < $2
	`, from, to).Scan(&n); err != nil {
		r.logger.Error("count visits failed", "error", err)
		return 0, err
	}
	return n, nil
}
