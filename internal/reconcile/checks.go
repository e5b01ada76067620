// Package reconcile compares two datasets: row count, schema, types, null
// constraints, duplicate freedom and content equality. Every check is pure and
// returns an Outcome; a mismatch is a failed outcome, never an error.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"etlverify/internal/dataset"
)

// CheckKind names a reconciliation check.
type CheckKind string

const (
	CheckRowCount      CheckKind = "row_count"
	CheckSchema        CheckKind = "schema"
	CheckDataTypes     CheckKind = "data_types"
	CheckNullValues    CheckKind = "null_values"
	CheckNoDuplicates  CheckKind = "no_duplicates"
	CheckDataIntegrity CheckKind = "data_integrity"
	CheckDataMultiset  CheckKind = "data_multiset"
)

// DefaultChecks is the standard suite, in reporting order.
var DefaultChecks = []CheckKind{
	CheckRowCount,
	CheckSchema,
	CheckDataTypes,
	CheckNullValues,
	CheckNoDuplicates,
	CheckDataIntegrity,
}

// Title is the human-readable name used in evidence records.
func (k CheckKind) Title() string {
	switch k {
	case CheckRowCount:
		return "Row Count Validation"
	case CheckSchema:
		return "Schema Validation"
	case CheckDataTypes:
		return "Data Type Validation"
	case CheckNullValues:
		return "Null Value Validation"
	case CheckNoDuplicates:
		return "Duplicate Validation"
	case CheckDataIntegrity:
		return "Data Integrity Validation"
	case CheckDataMultiset:
		return "Data Multiset Validation"
	}
	return string(k)
}

// Outcome is the result of one check. MismatchIndex is 0-based and nil when the
// check passed or the mismatch has no position.
type Outcome struct {
	Check         CheckKind `json:"check"`
	Dataset       string    `json:"dataset,omitempty"`
	Passed        bool      `json:"passed"`
	Detail        string    `json:"detail"`
	MismatchIndex *int      `json:"mismatchIndex,omitempty"`
}

// String renders the outcome for evidence records and logs.
func (o Outcome) String() string {
	result := "PASSED"
	if !o.Passed {
		result = "FAILED"
	}
	s := fmt.Sprintf("Validation Result: %s\n%s", result, o.Detail)
	if o.MismatchIndex != nil {
		s += fmt.Sprintf("\nmismatch index: %d", *o.MismatchIndex)
	}
	return s
}

func pass(kind CheckKind, detail string) Outcome {
	return Outcome{Check: kind, Passed: true, Detail: detail}
}

func fail(kind CheckKind, idx *int, format string, args ...any) Outcome {
	return Outcome{Check: kind, Passed: false, Detail: fmt.Sprintf(format, args...), MismatchIndex: idx}
}

func at(i int) *int { return &i }

// ValidateRowCount passes iff both datasets hold the same number of rows.
func ValidateRowCount(source, target *dataset.Dataset) Outcome {
	s, t := source.Len(), target.Len()
	if s != t {
		return fail(CheckRowCount, nil, "row count mismatch: source=%d target=%d", s, t)
	}
	return pass(CheckRowCount, fmt.Sprintf("row counts match: %d", s))
}

// ValidateSchema passes iff both schemas have the same length and the same name
// and type at every position. It stops at the first mismatching position.
func ValidateSchema(source, target *dataset.Dataset) Outcome {
	ss, ts := source.Schema(), target.Schema()
	if len(ss) != len(ts) {
		return fail(CheckSchema, nil, "column count mismatch: source=%d target=%d", len(ss), len(ts))
	}
	for i := range ss {
		if ss[i].Name != ts[i].Name || ss[i].Type != ts[i].Type {
			return fail(CheckSchema, at(i), "column %d differs: source=(%s %s) target=(%s %s)",
				i, ss[i].Name, ss[i].Type, ts[i].Name, ts[i].Type)
		}
	}
	return pass(CheckSchema, fmt.Sprintf("schemas match: %d columns", len(ss)))
}

// ValidateDataTypes passes iff declared types agree at every position up to the
// shorter schema. Names and row counts are not compared.
func ValidateDataTypes(source, target *dataset.Dataset) Outcome {
	ss, ts := source.Schema(), target.Schema()
	n := min(len(ss), len(ts))
	for i := 0; i < n; i++ {
		if ss[i].Type != ts[i].Type {
			return fail(CheckDataTypes, at(i), "type mismatch at column %d: source=%s target=%s",
				i, ss[i].Type, ts[i].Type)
		}
	}
	return pass(CheckDataTypes, fmt.Sprintf("types match across %d columns", n))
}

// ValidateNullValues passes iff no row holds null in any critical column. It
// returns an error when a critical column does not exist in the dataset.
func ValidateNullValues(ds *dataset.Dataset, criticalColumns []string) (Outcome, error) {
	idx, err := columnIndexes(ds.Schema(), criticalColumns)
	if err != nil {
		return Outcome{}, fmt.Errorf("null value check: %w", err)
	}
	for r := 0; r < ds.Len(); r++ {
		row := ds.Row(r)
		for k, c := range idx {
			if row.At(c) == nil {
				return fail(CheckNullValues, at(r), "null in critical column %q at row %d", criticalColumns[k], r), nil
			}
		}
	}
	return pass(CheckNullValues, fmt.Sprintf("no nulls in %s across %d rows",
		strings.Join(criticalColumns, ", "), ds.Len())), nil
}

// DuplicateKey joins the string forms of the key column values with "|".
// Values that themselves contain "|" may collide; that is accepted.
func DuplicateKey(row dataset.Row, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, c := range keyIdx {
		parts[i] = dataset.Format(row.At(c))
	}
	return strings.Join(parts, "|")
}

// ValidateNoDuplicates passes iff every composite key built from keyColumns
// occurs exactly once. With no key columns every row shares one key.
func ValidateNoDuplicates(ds *dataset.Dataset, keyColumns []string) (Outcome, error) {
	idx, err := columnIndexes(ds.Schema(), keyColumns)
	if err != nil {
		return Outcome{}, fmt.Errorf("duplicate check: %w", err)
	}
	counts := make(map[string]int, ds.Len())
	firstRepeat := -1
	for r := 0; r < ds.Len(); r++ {
		key := DuplicateKey(ds.Row(r), idx)
		counts[key]++
		if counts[key] == 2 && firstRepeat < 0 {
			firstRepeat = r
		}
	}
	if firstRepeat >= 0 {
		key := DuplicateKey(ds.Row(firstRepeat), idx)
		dupKeys := 0
		for _, n := range counts {
			if n > 1 {
				dupKeys++
			}
		}
		return fail(CheckNoDuplicates, at(firstRepeat), "key %q occurs %d times (%d duplicated keys)",
			key, counts[key], dupKeys), nil
	}
	return pass(CheckNoDuplicates, fmt.Sprintf("%d unique keys over %s", len(counts),
		strings.Join(keyColumns, ", "))), nil
}

// ValidateDataIntegrity passes iff the unordered sets of rows are equal. Row
// order is ignored and duplicate rows collapse: a row present twice on one side
// and once on the other still compares equal. See ValidateDataMultiset.
func ValidateDataIntegrity(source, target *dataset.Dataset) Outcome {
	src, tgt := rowCounts(source), rowCounts(target)
	onlySrc, onlyTgt := difference(src, tgt), difference(tgt, src)
	if len(onlySrc) == 0 && len(onlyTgt) == 0 {
		return pass(CheckDataIntegrity, fmt.Sprintf("%d distinct rows match", len(src)))
	}
	return fail(CheckDataIntegrity, nil, "%d distinct rows only in source, %d only in target%s",
		len(onlySrc), len(onlyTgt), samples(onlySrc, onlyTgt))
}

// ValidateDataMultiset is the strict variant of ValidateDataIntegrity: every row
// must occur the same number of times on both sides.
func ValidateDataMultiset(source, target *dataset.Dataset) Outcome {
	src, tgt := rowCounts(source), rowCounts(target)
	var diffs []string
	for k, e := range src {
		if o := tgt[k]; o.n != e.n {
			diffs = append(diffs, fmt.Sprintf("%s: source=%d target=%d", e.row, e.n, o.n))
		}
	}
	for k, e := range tgt {
		if _, ok := src[k]; !ok {
			diffs = append(diffs, fmt.Sprintf("%s: source=0 target=%d", e.row, e.n))
		}
	}
	if len(diffs) == 0 {
		return pass(CheckDataMultiset, fmt.Sprintf("%d rows match with multiplicity", source.Len()))
	}
	sort.Strings(diffs)
	if len(diffs) > maxSamples {
		diffs = diffs[:maxSamples]
	}
	return fail(CheckDataMultiset, nil, "row multiplicities differ:\n%s", strings.Join(diffs, "\n"))
}

const maxSamples = 5

type entry struct {
	row string
	n   int
}

func rowCounts(ds *dataset.Dataset) map[string]entry {
	m := make(map[string]entry, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		row := ds.Row(i)
		k := row.Key()
		e, ok := m[k]
		if !ok {
			e.row = row.String()
		}
		e.n++
		m[k] = e
	}
	return m
}

func difference(a, b map[string]entry) []string {
	var out []string
	for k, e := range a {
		if _, ok := b[k]; !ok {
			out = append(out, e.row)
		}
	}
	sort.Strings(out)
	return out
}

func samples(onlySrc, onlyTgt []string) string {
	var b strings.Builder
	for i, r := range onlySrc {
		if i == maxSamples {
			break
		}
		b.WriteString("\n- source: " + r)
	}
	for i, r := range onlyTgt {
		if i == maxSamples {
			break
		}
		b.WriteString("\n+ target: " + r)
	}
	return b.String()
}

func columnIndexes(schema dataset.Schema, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		c := schema.Index(n)
		if c < 0 {
			return nil, fmt.Errorf("unknown column %q", n)
		}
		idx[i] = c
	}
	return idx, nil
}
