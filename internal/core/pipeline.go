// Package core orchestrates a validation run: trigger the transformation job,
// fetch both datasets, reconcile them and record the evidence.
package core

import (
	"etlverify/internal/objectstore"
	"etlverify/internal/source"
)

// Plan is one validation run, read from YAML.
//
//	name: nightly-orders
//	job:
//	  command: spark-submit --class OrdersJob /opt/etl/orders.jar
//	  host: etl-edge-01
//	  user: etl
//	  credential: edge.ssh.password
//	source:
//	  kind: sql
//	  dialect: oracle
//	  host: ora01
//	  service: ORCLPDB
//	  user: etl_ro
//	  credential: source.db.password
//	  query: SELECT * FROM orders
//	target:
//	  kind: csv
//	  path: s3://etl-out/orders/part-0000.csv
//	checks:
//	  critical_columns: [order_id, amount]
//	  key_columns: [order_id]
//	issue: ETL-42
type Plan struct {
	Name      string         `yaml:"name" json:"name"`
	Transport string         `yaml:"transport" json:"transport,omitempty"`
	Job       *JobSpec       `yaml:"job" json:"job,omitempty"`
	Source    source.Locator `yaml:"source" json:"source"`
	Target    source.Locator `yaml:"target" json:"target"`
	Checks    CheckOptions   `yaml:"checks" json:"checks"`
	Issue     string         `yaml:"issue" json:"issue,omitempty"`
	Snapshot  bool           `yaml:"snapshot" json:"snapshot,omitempty"`
}

// CheckOptions selects and parameterizes the reconciliation checks.
type CheckOptions struct {
	// Only restricts the run to the named checks; empty means the standard suite.
	Only            []string `yaml:"only" json:"only,omitempty"`
	Multiset        bool     `yaml:"multiset" json:"multiset,omitempty"`
	CriticalColumns []string `yaml:"critical_columns" json:"criticalColumns,omitempty"`
	KeyColumns      []string `yaml:"key_columns" json:"keyColumns,omitempty"`
	// Side is target (default), source or both.
	Side string `yaml:"side" json:"side,omitempty"`
}

// UsesLocalHost reports whether running the plan touches the validating host
// itself: a job on the local transport, or a file locator outside the object
// store. An empty transport must already be resolved.
func (p *Plan) UsesLocalHost() bool {
	if p.Job != nil && p.Transport == TransportLocal {
		return true
	}
	for _, l := range []source.Locator{p.Source, p.Target} {
		switch l.Kind {
		case source.KindCSV, source.KindParquet:
			if !objectstore.IsURL(l.Path) {
				return true
			}
		}
	}
	return false
}
