package core

import (
	"fmt"

	"etlverify/internal/reconcile"
)

// Scheduler decides which checks a plan runs and in what reporting order.
type Scheduler struct{}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Checks returns the selected checks in standard order, with data_multiset
// last. The null check is dropped from the default suite when the plan names
// no critical columns; listing it in checks.only keeps it.
func (s *Scheduler) Checks(p *Plan) ([]reconcile.CheckKind, error) {
	order := append(append([]reconcile.CheckKind(nil), reconcile.DefaultChecks...), reconcile.CheckDataMultiset)

	selected := map[reconcile.CheckKind]bool{}
	if len(p.Checks.Only) > 0 {
		known := map[reconcile.CheckKind]bool{}
		for _, k := range order {
			known[k] = true
		}
		for _, name := range p.Checks.Only {
			k := reconcile.CheckKind(name)
			if !known[k] {
				return nil, fmt.Errorf("unknown check %q", name)
			}
			selected[k] = true
		}
	} else {
		for _, k := range reconcile.DefaultChecks {
			selected[k] = true
		}
		if len(p.Checks.CriticalColumns) == 0 {
			delete(selected, reconcile.CheckNullValues)
		}
	}
	if p.Checks.Multiset {
		selected[reconcile.CheckDataMultiset] = true
	}

	var out []reconcile.CheckKind
	for _, k := range order {
		if selected[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Options builds the engine options for a plan.
func (s *Scheduler) Options(p *Plan) (reconcile.Options, error) {
	checks, err := s.Checks(p)
	if err != nil {
		return reconcile.Options{}, err
	}
	side := reconcile.Side(p.Checks.Side)
	switch side {
	case "":
		side = reconcile.SideTarget
	case reconcile.SideTarget, reconcile.SideSource, reconcile.SideBoth:
	default:
		return reconcile.Options{}, fmt.Errorf("checks.side must be target, source or both, got %q", p.Checks.Side)
	}
	return reconcile.Options{
		Checks:          checks,
		CriticalColumns: p.Checks.CriticalColumns,
		KeyColumns:      p.Checks.KeyColumns,
		Side:            side,
	}, nil
}
