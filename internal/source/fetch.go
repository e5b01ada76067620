// Package source turns a query against a live database or a structured file
// into a Dataset.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"etlverify/internal/apperr"
	"etlverify/internal/credentials"
	"etlverify/internal/dataset"
	"etlverify/internal/objectstore"
)

// Kind selects the adapter for a locator.
type Kind string

const (
	KindSQL     Kind = "sql"
	KindCSV     Kind = "csv"
	KindParquet Kind = "parquet"
)

// Locator names a dataset: a query against a database, or a file path that is
// local or s3://bucket/key.
type Locator struct {
	Kind       Kind     `yaml:"kind" json:"kind"`
	Conn       ConnSpec `yaml:",inline" json:"conn"`
	Credential string   `yaml:"credential" json:"credential,omitempty"`
	Query      string   `yaml:"query" json:"query,omitempty"`
	Path       string   `yaml:"path" json:"path,omitempty"`
	Delimiter  string   `yaml:"delimiter" json:"delimiter,omitempty"`
	InferTypes bool     `yaml:"infer_types" json:"inferTypes,omitempty"`
}

// Describe is a one-line, secret-free description for logs and evidence.
func (l Locator) Describe() string {
	switch l.Kind {
	case KindSQL:
		return l.Conn.Redacted() + ": " + strings.Join(strings.Fields(l.Query), " ")
	default:
		return string(l.Kind) + " " + l.Path
	}
}

// Fetcher dispatches locators to adapters. Connections are opened per fetch
// and closed before Fetch returns.
type Fetcher struct {
	Credentials    credentials.Provider
	Objects        objectstore.Store
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// Fetch reads the dataset named by loc.
func (f *Fetcher) Fetch(ctx context.Context, loc Locator) (*dataset.Dataset, error) {
	start := time.Now()
	ds, err := f.fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	f.logger().Info("dataset fetched",
		zap.String("source", loc.Describe()),
		zap.Int("rows", ds.Len()),
		zap.Int("columns", len(ds.Schema())),
		zap.Duration("elapsed", time.Since(start)))
	return ds, nil
}

func (f *Fetcher) fetch(ctx context.Context, loc Locator) (*dataset.Dataset, error) {
	switch loc.Kind {
	case KindSQL:
		return f.fetchSQL(ctx, loc)
	case KindCSV:
		data, err := f.load(ctx, loc.Path)
		if err != nil {
			return nil, err
		}
		delim, err := delimiter(loc.Delimiter)
		if err != nil {
			return nil, apperr.Source("csv locator", err)
		}
		return CSVAdapter{Delimiter: delim, InferTypes: loc.InferTypes}.Read(bytes.NewReader(data))
	case KindParquet:
		if !objectstore.IsURL(loc.Path) {
			return ParquetAdapter{}.ReadFile(loc.Path)
		}
		data, err := f.load(ctx, loc.Path)
		if err != nil {
			return nil, err
		}
		return ParquetAdapter{}.ReadBytes(data)
	}
	return nil, apperr.Source("locator", fmt.Errorf("unknown kind %q", loc.Kind))
}

func (f *Fetcher) fetchSQL(ctx context.Context, loc Locator) (*dataset.Dataset, error) {
	spec := loc.Conn
	if loc.Credential != "" && spec.Password == "" {
		if f.Credentials == nil {
			return nil, apperr.Connection("credentials", errors.New("no credential provider configured"))
		}
		pw, err := f.Credentials.Secret(ctx, loc.Credential)
		if err != nil {
			return nil, apperr.Connection("credentials", err)
		}
		spec.Password = pw
	}

	db, err := Open(ctx, spec, f.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			f.logger().Warn("close connection", zap.String("conn", spec.Redacted()), zap.Error(cerr))
		}
	}()
	return SQLAdapter{DB: db}.Query(ctx, loc.Query)
}

func (f *Fetcher) load(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, apperr.Source("locator", errors.New("path is required"))
	}
	if !objectstore.IsURL(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.Source("read "+path, err)
		}
		return data, nil
	}

	if f.Objects == nil {
		return nil, apperr.Source("read "+path, errors.New("no object store configured"))
	}
	bucket, key, err := objectstore.ParseURL(path)
	if err != nil {
		return nil, apperr.Source("read "+path, err)
	}
	data, err := f.Objects.Get(ctx, bucket, key)
	if err != nil {
		if objectstore.CodeOf(err) == objectstore.CodeEndpointUnreachable {
			return nil, apperr.Connection("read "+path, err)
		}
		return nil, apperr.Source("read "+path, err)
	}
	return data, nil
}

func delimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
