package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"etlverify/internal/dataset"
)

// Side selects which dataset the single-dataset checks (nulls, duplicates) inspect.
type Side string

const (
	SideTarget Side = "target"
	SideSource Side = "source"
	SideBoth   Side = "both"
)

// Options configures one engine run.
type Options struct {
	Checks          []CheckKind
	CriticalColumns []string
	KeyColumns      []string
	Side            Side
}

// Engine runs the selected checks concurrently and joins on all of them.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

type task struct {
	kind CheckKind
	side string
	ds   *dataset.Dataset
}

// Run executes every selected check against source and target. A failing check
// never suppresses another; outcomes come back in check order. Only caller
// errors (such as an unknown critical column) are returned as errors.
func (e *Engine) Run(ctx context.Context, source, target *dataset.Dataset, opts Options) ([]Outcome, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("reconcile: source and target datasets are required")
	}
	checks := opts.Checks
	if len(checks) == 0 {
		checks = DefaultChecks
	}

	var tasks []task
	for _, k := range checks {
		switch k {
		case CheckNullValues, CheckNoDuplicates:
			for _, side := range sides(opts.Side) {
				ds := target
				if side == SideSource {
					ds = source
				}
				tasks = append(tasks, task{kind: k, side: string(side), ds: ds})
			}
		default:
			tasks = append(tasks, task{kind: k})
		}
	}

	outcomes := make([]Outcome, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := e.runOne(t, source, target, opts)
			if err != nil {
				return fmt.Errorf("%s on %s: %w", t.kind, t.side, err)
			}
			o.Dataset = t.side
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		fields := []zap.Field{zap.String("check", string(o.Check)), zap.Bool("passed", o.Passed)}
		if o.Dataset != "" {
			fields = append(fields, zap.String("dataset", o.Dataset))
		}
		if o.MismatchIndex != nil {
			fields = append(fields, zap.Int("mismatch_index", *o.MismatchIndex))
		}
		e.logger.Info("check finished", fields...)
	}
	return outcomes, nil
}

func (e *Engine) runOne(t task, source, target *dataset.Dataset, opts Options) (Outcome, error) {
	switch t.kind {
	case CheckRowCount:
		return ValidateRowCount(source, target), nil
	case CheckSchema:
		return ValidateSchema(source, target), nil
	case CheckDataTypes:
		return ValidateDataTypes(source, target), nil
	case CheckNullValues:
		return ValidateNullValues(t.ds, opts.CriticalColumns)
	case CheckNoDuplicates:
		return ValidateNoDuplicates(t.ds, opts.KeyColumns)
	case CheckDataIntegrity:
		return ValidateDataIntegrity(source, target), nil
	case CheckDataMultiset:
		return ValidateDataMultiset(source, target), nil
	}
	return Outcome{}, fmt.Errorf("unknown check %q", t.kind)
}

func sides(s Side) []Side {
	switch s {
	case SideSource:
		return []Side{SideSource}
	case SideBoth:
		return []Side{SideSource, SideTarget}
	}
	return []Side{SideTarget}
}

// AllPassed reports whether every outcome passed.
func AllPassed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}
