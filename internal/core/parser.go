package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"etlverify/internal/source"
)

// ParsePlan parses and validates a YAML plan. An empty transport means ssh.
func ParsePlan(data []byte) (*Plan, error) {
	return ParsePlanFor(data, "")
}

// ParsePlanFor parses a plan, sets an empty transport to defaultTransport and
// validates the result. With a local default a job needs no host.
func ParsePlanFor(data []byte, defaultTransport string) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if plan.Transport == "" {
		plan.Transport = defaultTransport
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LoadPlan reads a plan file.
func LoadPlan(path string) (*Plan, error) {
	return LoadPlanFor(path, "")
}

// LoadPlanFor reads a plan file like ParsePlanFor.
func LoadPlanFor(path, defaultTransport string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plan, err := ParsePlanFor(data, defaultTransport)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if plan.Name == "" {
		plan.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return plan, nil
}

// Validate checks the plan's shape; it does not contact any host.
func (p *Plan) Validate() error {
	var errs []error
	if p.Job != nil {
		if strings.TrimSpace(p.Job.Command) == "" {
			errs = append(errs, errors.New("job.command is required"))
		}
		if p.Job.Host == "" && p.Transport != TransportLocal {
			errs = append(errs, errors.New("job.host is required"))
		}
	}
	switch p.Transport {
	case "", TransportSSH, TransportLocal:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", p.Transport))
	}
	errs = append(errs, validateLocator("source", p.Source), validateLocator("target", p.Target))
	if _, err := NewScheduler().Options(p); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateLocator(side string, l source.Locator) error {
	switch l.Kind {
	case source.KindSQL:
		if strings.TrimSpace(l.Query) == "" {
			return fmt.Errorf("%s.query is required", side)
		}
		if l.Conn.DSN == "" && l.Conn.Host == "" {
			return fmt.Errorf("%s needs a dsn or a host", side)
		}
	case source.KindCSV, source.KindParquet:
		if l.Path == "" {
			return fmt.Errorf("%s.path is required", side)
		}
	case "":
		return fmt.Errorf("%s.kind is required", side)
	default:
		return fmt.Errorf("%s.kind %q is not sql, csv or parquet", side, l.Kind)
	}
	return nil
}
