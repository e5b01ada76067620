package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"etlverify/internal/apperr"
	"etlverify/internal/credentials"
	"etlverify/internal/dataset"
	"etlverify/internal/metrics"
	"etlverify/internal/reconcile"
	"etlverify/internal/remote"
	"etlverify/internal/report"
	"etlverify/internal/snapshot"
	"etlverify/internal/source"
	"etlverify/internal/tracker"
)

// RunResult is what a validation run produced. It is returned even when the
// run stops with an error, carrying whatever was gathered up to that point.
type RunResult struct {
	RunID      string              `json:"runId"`
	Plan       string              `json:"plan"`
	Passed     bool                `json:"passed"`
	Verdict    *remote.Verdict     `json:"verdict,omitempty"`
	Outcomes   []reconcile.Outcome `json:"outcomes"`
	Snapshots  map[string]string   `json:"snapshots,omitempty"`
	Evidence   []report.Record     `json:"evidence"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// Runner ties together Scheduler, remote job runner, source fetcher,
// reconciliation engine, evidence sinks, metrics and the issue tracker.
// Optional collaborators (Snapshots, Tracker, Metrics, NewSink) may be nil.
type Runner struct {
	Scheduler   *Scheduler
	Dialers     Dialers
	Credentials credentials.Provider
	Fetcher     *source.Fetcher
	Engine      *reconcile.Engine
	Snapshots   *snapshot.Exporter
	Tracker     tracker.Updater
	Metrics     *metrics.Metrics
	// NewSink builds the evidence sink of one run.
	NewSink     func(runID string) report.Sink
	Logger      *zap.Logger
	Stderr      io.Writer
	ReadTimeout time.Duration
	// DefaultTransport applies to plans that name none.
	DefaultTransport string
}

func NewRunner(dialers Dialers, fetcher *source.Fetcher, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Scheduler:   NewScheduler(),
		Dialers:     dialers,
		Credentials: fetcher.Credentials,
		Fetcher:     fetcher,
		Engine:      reconcile.NewEngine(logger),
		Logger:      logger,
		ReadTimeout: remote.DefaultReadTimeout,
	}
}

// Run executes plan end to end. A job that did not complete is a JobFailed
// error and no data is compared. Check mismatches are not errors: they show
// up as failed outcomes and Passed=false.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*RunResult, error) {
	return r.RunWithID(ctx, uuid.NewString(), plan)
}

// RunWithID is Run with a caller-chosen run id.
func (r *Runner) RunWithID(ctx context.Context, runID string, plan *Plan) (res *RunResult, err error) {
	res = &RunResult{RunID: runID, Plan: plan.Name, StartedAt: time.Now().UTC()}
	logger := r.logger().With(zap.String("run_id", runID), zap.String("plan", plan.Name))
	mem := &report.Memory{}
	sink := report.Fanout{mem}
	if r.NewSink != nil {
		sink = append(sink, r.NewSink(runID))
	}

	finish := r.Metrics.RunStarted()
	defer func() {
		res.FinishedAt = time.Now().UTC()
		res.Evidence = mem.Records()
		result := metrics.ResultError
		switch {
		case err == nil && res.Passed:
			result = metrics.ResultPassed
		case err == nil:
			result = metrics.ResultFailed
		case errors.Is(err, apperr.ErrJobFailed):
			result = metrics.ResultJobFailed
		}
		if err != nil {
			res.Error = err.Error()
			logger.Error("validation run stopped", zap.String("result", result), zap.Error(err))
		} else {
			logger.Info("validation run finished", zap.String("result", result))
		}
		finish(result)
		r.syncIssue(ctx, plan, err == nil && res.Passed, logger)
	}()

	opts, err := r.scheduler().Options(plan)
	if err != nil {
		return res, err
	}
	logger.Info("validation run started", zap.Int("checks", len(opts.Checks)))

	if plan.Job != nil {
		verdict, err := r.runJob(ctx, plan, sink, logger)
		res.Verdict = verdict
		if err != nil {
			return res, err
		}
	}

	src, tgt, err := r.fetch(ctx, plan, logger)
	if err != nil {
		return res, err
	}

	if plan.Snapshot {
		res.Snapshots = r.snapshot(ctx, runID, src, tgt, sink, logger)
	}

	outcomes, err := r.Engine.Run(ctx, src, tgt, opts)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	res.Outcomes = outcomes
	res.Passed = reconcile.AllPassed(outcomes)

	for _, o := range outcomes {
		report.Emit(ctx, sink, logger, checkTitle(o), o.String())
		r.Metrics.CheckFinished(string(o.Check), o.Passed)
	}
	report.Emit(ctx, sink, logger, "Validation Summary", summary(plan, res))
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, plan *Plan, sink report.Sink, logger *zap.Logger) (*remote.Verdict, error) {
	job, err := plan.Job.resolve(ctx, r.Credentials)
	if err != nil {
		report.Emit(ctx, sink, logger, "Remote Connection Error", err.Error())
		return nil, err
	}
	transport := plan.Transport
	if transport == "" {
		transport = r.DefaultTransport
	}
	dialer, err := r.Dialers.For(transport)
	if err != nil {
		return nil, apperr.Connection("remote job", err)
	}

	jr := remote.NewRunner(dialer, sink, logger)
	jr.ReadTimeout = r.ReadTimeout
	if r.Stderr != nil {
		jr.Stderr = r.Stderr
	}
	verdict, err := jr.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	r.Metrics.RemoteJobFinished(verdict.Succeeded)
	if !verdict.Succeeded {
		return verdict, apperr.JobFailed(job.Addr(), verdict.FailureReason)
	}
	return verdict, nil
}

// fetch reads source and target concurrently. The first failure cancels the
// other read.
func (r *Runner) fetch(ctx context.Context, plan *Plan, logger *zap.Logger) (*dataset.Dataset, *dataset.Dataset, error) {
	var src, tgt *dataset.Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ds, err := r.Fetcher.Fetch(gctx, plan.Source)
		if err != nil {
			return fmt.Errorf("source %s: %w", plan.Source.Describe(), err)
		}
		src = ds
		return nil
	})
	g.Go(func() error {
		ds, err := r.Fetcher.Fetch(gctx, plan.Target)
		if err != nil {
			return fmt.Errorf("target %s: %w", plan.Target.Describe(), err)
		}
		tgt = ds
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	r.Metrics.RowsFetched("source", src.Len())
	r.Metrics.RowsFetched("target", tgt.Len())
	logger.Info("datasets fetched", zap.Int("source_rows", src.Len()), zap.Int("target_rows", tgt.Len()))
	return src, tgt, nil
}

// snapshot exports both datasets for audit. Failures are recorded and logged
// but never fail the run.
func (r *Runner) snapshot(ctx context.Context, runID string, src, tgt *dataset.Dataset, sink report.Sink, logger *zap.Logger) map[string]string {
	if r.Snapshots == nil {
		logger.Warn("snapshot requested but no object store is configured")
		return nil
	}
	urls := map[string]string{}
	var lines []string
	for _, side := range []struct {
		name string
		ds   *dataset.Dataset
	}{{"source", src}, {"target", tgt}} {
		url, err := r.Snapshots.Export(ctx, runID, side.name, side.ds)
		if err != nil {
			logger.Warn("snapshot failed", zap.String("side", side.name), zap.Error(err))
			lines = append(lines, side.name+": "+err.Error())
			continue
		}
		urls[side.name] = url
		lines = append(lines, side.name+": "+url)
	}
	report.Emit(ctx, sink, logger, "Dataset Snapshot", strings.Join(lines, "\n"))
	return urls
}

// syncIssue moves the plan's issue to Passed or Failed. A missing transition
// or tracker outage is logged only.
func (r *Runner) syncIssue(ctx context.Context, plan *Plan, passed bool, logger *zap.Logger) {
	if plan.Issue == "" || r.Tracker == nil {
		return
	}
	status := tracker.StatusFor(passed)
	err := r.Tracker.Transition(ctx, plan.Issue, status)
	switch {
	case errors.Is(err, tracker.ErrNoTransition):
		logger.Warn("issue has no matching transition", zap.String("issue", plan.Issue), zap.String("status", status))
	case err != nil:
		logger.Warn("cannot update issue", zap.String("issue", plan.Issue), zap.Error(err))
	}
}

func checkTitle(o reconcile.Outcome) string {
	if o.Dataset == "" {
		return o.Check.Title()
	}
	return o.Check.Title() + " (" + o.Dataset + ")"
}

func summary(plan *Plan, res *RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\nRun: %s\n", plan.Name, res.RunID)
	fmt.Fprintf(&b, "Source: %s\nTarget: %s\n", plan.Source.Describe(), plan.Target.Describe())
	failed := 0
	for _, o := range res.Outcomes {
		mark := "PASSED"
		if !o.Passed {
			mark = "FAILED"
			failed++
		}
		fmt.Fprintf(&b, "%-40s %s\n", checkTitle(o), mark)
	}
	fmt.Fprintf(&b, "%d of %d checks failed", failed, len(res.Outcomes))
	return b.String()
}

func (r *Runner) scheduler() *Scheduler {
	if r.Scheduler == nil {
		return NewScheduler()
	}
	return r.Scheduler
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
