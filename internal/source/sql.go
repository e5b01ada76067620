package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"etlverify/internal/apperr"
	"etlverify/internal/dataset"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLAdapter reads the result of a query into a Dataset. The connection is
// supplied by the caller and is not closed here.
type SQLAdapter struct {
	DB Querier
}

// Query runs q and materializes every row. Column order and types come from
// the driver's result metadata.
func (a SQLAdapter) Query(ctx context.Context, q string, args ...any) (*dataset.Dataset, error) {
	if strings.TrimSpace(q) == "" {
		return nil, apperr.Source("query", fmt.Errorf("query is empty"))
	}
	rows, err := a.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Execution("query", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, apperr.Source("column metadata", err)
	}
	schema := make(dataset.Schema, len(cols))
	for i, c := range cols {
		schema[i] = dataset.Column{Name: c.Name(), Type: strings.ToUpper(c.DatabaseTypeName())}
	}

	var values [][]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperr.Execution("scan row", err)
		}
		values = append(values, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Execution("read rows", err)
	}

	ds, err := dataset.New(schema, values)
	if err != nil {
		return nil, apperr.Source("query result", err)
	}
	return ds, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
