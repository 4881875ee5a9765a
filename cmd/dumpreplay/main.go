// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/agent"
	"github.com/ronnieholm/spo-analytics/internal/aggregate"
	"github.com/ronnieholm/spo-analytics/internal/config"
	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/heap/jsondump"
	"github.com/ronnieholm/spo-analytics/internal/logging"
	"github.com/ronnieholm/spo-analytics/internal/metrics"
	"github.com/ronnieholm/spo-analytics/internal/persistence/postgres"
	"github.com/ronnieholm/spo-analytics/internal/persistence/sqlite"
	"github.com/ronnieholm/spo-analytics/internal/replay"
	"github.com/ronnieholm/spo-analytics/internal/repository"
	"github.com/ronnieholm/spo-analytics/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitDrain     = 3
	exitMalformed = 4
)

const serviceName = "dumpreplay"

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}
	command := args[0]
	if command != "run" && command != "inspect" {
		printUsage(stderr)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.SnapshotPath, "snapshot", cfg.SnapshotPath, "path to the newline-delimited JSON heap export")
	fs.StringVar(&cfg.TypeName, "type", cfg.TypeName, "CLR type name of the visit record")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	if cfg.SnapshotPath == "" && fs.NArg() == 1 {
		cfg.SnapshotPath = fs.Arg(0)
	}
	if cfg.SnapshotPath == "" {
		_, _ = fmt.Fprintln(stderr, "a snapshot path is required (-snapshot or SNAPSHOT_PATH)")
		printUsage(stderr)
		return exitUsage
	}

	logger := logging.NewLogger(cfg.Env, serviceName)
	logger.Info("dumpreplay starting",
		"command", command,
		"snapshot", cfg.SnapshotPath,
		"type", cfg.TypeName,
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var code int
	switch command {
	case "run":
		code = runReplay(ctx, cfg, logger, stdout)
	case "inspect":
		code = runInspect(ctx, cfg, logger, stdout)
	}

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error("write metrics textfile failed", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	return code
}

func runReplay(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) int {
	snap, err := jsondump.Open(cfg.SnapshotPath)
	if err != nil {
		logger.Error("replay failed",
			"stage", domain.StageScanning,
			"error", fmt.Errorf("%w: %w", domain.ErrAcquisitionFailure, err),
		)
		return exitFailure
	}
	defer snap.Close()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open visit store failed", "sink", cfg.Sink, "error", err)
		return exitFailure
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close visit store failed", "error", err)
		}
	}()

	visitor := aggregate.NewVisitor(store, logger)
	mailbox := agent.New(agent.Deps{Handler: visitor, Logger: logger})
	pipeline := replay.New(replay.Deps{
		Mailbox:      mailbox,
		Logger:       logger,
		TypeName:     cfg.TypeName,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.DrainMaxWait,
	})

	var summary replay.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mailbox.Run(gctx)
	})
	g.Go(func() error {
		defer mailbox.Close()
		var err error
		summary, err = pipeline.Run(gctx, snap)
		return err
	})
	err = g.Wait()

	report := visitor.Report()
	logger.Info("replay summary",
		"stage", summary.Stage,
		"discovered", summary.Discovered,
		"reconstructed", summary.Reconstructed,
		"skipped", summary.Skipped,
		"dispatched", summary.Dispatched,
		"remaining", summary.Remaining,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	printReport(stdout, summary, report)

	if err != nil {
		return exitCode(err)
	}
	if summary.Skipped > cfg.MalformedThreshold {
		logger.Error("malformed records above threshold",
			"skipped", summary.Skipped,
			"threshold", cfg.MalformedThreshold,
		)
		return exitMalformed
	}
	return exitOK
}

func runInspect(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer) int {
	snap, err := jsondump.Open(cfg.SnapshotPath)
	if err != nil {
		logger.Error("inspect failed",
			"stage", domain.StageScanning,
			"error", fmt.Errorf("%w: %w", domain.ErrAcquisitionFailure, err),
		)
		return exitFailure
	}
	defer snap.Close()

	pipeline := replay.New(replay.Deps{Logger: logger, TypeName: cfg.TypeName})
	visits, summary, err := pipeline.Inspect(ctx, snap)
	if err != nil {
		logger.Error("inspect failed", "error", err)
		return exitCode(err)
	}

	// Inspect tallies without a store so the report shape matches run.
	visitor := aggregate.NewVisitor(nil, logger)
	tally(ctx, visitor, visits, logger)
	printReport(stdout, summary, visitor.Report())

	if summary.Skipped > cfg.MalformedThreshold {
		return exitMalformed
	}
	return exitOK
}

// tally hands visits to h directly, without an agent, and returns how many
// the handler rejected.
func tally(ctx context.Context, h agent.Handler, visits []domain.Visit, logger *slog.Logger) int {
	failed := 0
	for _, v := range visits {
		if err := h.Handle(ctx, agent.VisitMessage{Visit: v}); err != nil {
			failed++
			logger.Warn("tally visit failed", "correlation_id", v.CorrelationID, "error", err)
		}
	}
	return failed
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (aggregate.Store, func() error, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		db, err := sqlite.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.SinkPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.AutoMigrate {
			err = postgres.EnsureSchema(ctx, pool, logger)
		} else {
			err = postgres.SchemaReady(ctx, pool)
		}
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewVisitRepository(pool, logger), func() error {
			pool.Close()
			return nil
		}, nil
	default:
		return nil, func() error { return nil }, nil
	}
}

func exitCode(err error) int {
	var de *replay.DrainError
	if errors.Is(err, domain.ErrDrainTimeout) || errors.As(err, &de) || errors.Is(err, context.Canceled) {
		return exitDrain
	}
	return exitFailure
}

func printReport(w io.Writer, s replay.Summary, r aggregate.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "stage\t%s\n", s.Stage)
	_, _ = fmt.Fprintf(tw, "discovered\t%d\n", s.Discovered)
	_, _ = fmt.Fprintf(tw, "reconstructed\t%d\n", s.Reconstructed)
	_, _ = fmt.Fprintf(tw, "skipped\t%d\n", s.Skipped)

	fields := make([]string, 0, len(s.SkippedByField))
	for f := range s.SkippedByField {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\n", f, s.SkippedByField[f])
	}

	_, _ = fmt.Fprintf(tw, "dispatched\t%d\n", s.Dispatched)
	_, _ = fmt.Fprintf(tw, "remaining\t%d\n", s.Remaining)
	_, _ = fmt.Fprintf(tw, "visits\t%d\n", r.Visits)
	_, _ = fmt.Fprintf(tw, "site collections\t%d\n", len(r.Sites))
	_, _ = fmt.Fprintf(tw, "logins\t%d\n", len(r.Logins))
	if r.Visits > 0 {
		_, _ = fmt.Fprintf(tw, "first visit\t%s\n", r.First.Format(time.RFC3339))
		_, _ = fmt.Fprintf(tw, "last visit\t%s\n", r.Last.Format(time.RFC3339))
	}
	if r.PageLoads > 0 {
		_, _ = fmt.Fprintf(tw, "avg page load\t%s (%d samples)\n", r.AveragePageLoad(), r.PageLoads)
	}
	_ = tw.Flush()
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: dumpreplay run|inspect [-snapshot path] [-type name]")
}
