// Package dataset holds the immutable tabular snapshots compared by a validation run.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Column is one (name, type) pair of a Schema. Names are case-preserving.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Schema is the ordered column list of a dataset. Order is significant.
type Schema []Column

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, c := range s {
		if c.Name == "" {
			return fmt.Errorf("column %d has no name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Row is an ordered mapping from column name to value, aligned with its dataset's schema.
type Row struct {
	schema Schema
	values []any
}

// Get returns the value of the named column and whether the column exists.
func (r Row) Get(name string) (any, bool) {
	i := r.schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// At returns the value at the given schema position.
func (r Row) At(i int) any { return r.values[i] }

// Len returns the number of columns in the row.
func (r Row) Len() int { return len(r.values) }

// Map returns a copy of the row as a plain map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, c := range r.schema {
		m[c.Name] = r.values[i]
	}
	return m
}

// Key returns a canonical encoding of the row's key/value map. Two rows have the
// same key iff their maps are equal, independent of column order.
func (r Row) Key() string {
	idx := make([]int, len(r.schema))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return r.schema[idx[a]].Name < r.schema[idx[b]].Name })

	var b strings.Builder
	for _, i := range idx {
		b.WriteString(strconv.Quote(r.schema[i].Name))
		b.WriteByte('=')
		b.WriteString(canonical(r.values[i]))
		b.WriteByte(';')
	}
	return b.String()
}

// String renders the row as {name=value, ...} in schema order.
func (r Row) String() string {
	parts := make([]string, len(r.values))
	for i, c := range r.schema {
		parts[i] = c.Name + "=" + Format(r.values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Dataset is a schema plus a materialized sequence of rows. It is read-only
// after construction and safe for concurrent readers.
type Dataset struct {
	schema Schema
	rows   []Row
}

// New builds a dataset from positional values. Every row must carry exactly
// one value per schema column; values are normalized with Normalize.
func New(schema Schema, rows [][]any) (*Dataset, error) {
	if err := schema.validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	sc := append(Schema(nil), schema...)
	ds := &Dataset{schema: sc, rows: make([]Row, 0, len(rows))}
	for i, raw := range rows {
		if len(raw) != len(sc) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", i, len(raw), len(sc))
		}
		vals := make([]any, len(raw))
		for j, v := range raw {
			nv, err := Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, sc[j].Name, err)
			}
			vals[j] = nv
		}
		ds.rows = append(ds.rows, Row{schema: sc, values: vals})
	}
	return ds, nil
}

// FromMaps builds a dataset from keyed rows. Each map's key set must equal the
// schema's column-name set.
func FromMaps(schema Schema, rows []map[string]any) (*Dataset, error) {
	positional := make([][]any, len(rows))
	for i, m := range rows {
		if len(m) != len(schema) {
			return nil, fmt.Errorf("row %d has %d columns, schema has %d", i, len(m), len(schema))
		}
		vals := make([]any, len(schema))
		for j, c := range schema {
			v, ok := m[c.Name]
			if !ok {
				return nil, fmt.Errorf("row %d is missing column %q", i, c.Name)
			}
			vals[j] = v
		}
		positional[i] = vals
	}
	return New(schema, positional)
}

// Schema returns a copy of the dataset's schema.
func (d *Dataset) Schema() Schema { return append(Schema(nil), d.schema...) }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Row returns the i-th row.
func (d *Dataset) Row(i int) Row { return d.rows[i] }

// Rows returns the rows in source order. The slice is a copy; rows
// themselves are immutable.
func (d *Dataset) Rows() []Row { return append([]Row(nil), d.rows...) }

// Preview renders the schema and up to n rows, for evidence records.
func (d *Dataset) Preview(n int) string {
	var b strings.Builder
	cols := make([]string, len(d.schema))
	for i, c := range d.schema {
		cols[i] = c.Name + " " + c.Type
	}
	fmt.Fprintf(&b, "columns: %s\nrows: %d\n", strings.Join(cols, ", "), len(d.rows))
	for i := 0; i < len(d.rows) && i < n; i++ {
		b.WriteString(d.rows[i].String())
		b.WriteByte('\n')
	}
	return b.String()
}
