package reconcile

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etlverify/internal/dataset"
)

var customerSchema = dataset.Schema{
	{Name: "id", Type: "INT"},
	{Name: "name", Type: "VARCHAR"},
	{Name: "email", Type: "VARCHAR"},
}

func customers(t *testing.T, rows ...[]any) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(customerSchema, rows)
	require.NoError(t, err)
	return ds
}

func withSchema(t *testing.T, schema dataset.Schema, rows ...[]any) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(schema, rows)
	require.NoError(t, err)
	return ds
}

func sample(t *testing.T) *dataset.Dataset {
	return customers(t,
		[]any{1, "Ann", "ann@x.com"},
		[]any{2, "Bob", "bob@x.com"},
		[]any{3, "Cid", nil},
		[]any{4, "Dee", "dee@x.com"},
	)
}

func TestChecks_AreReflexive(t *testing.T) {
	for name, ds := range map[string]*dataset.Dataset{
		"sample": sample(t),
		"empty":  customers(t),
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, ValidateRowCount(ds, ds).Passed)
			assert.True(t, ValidateSchema(ds, ds).Passed)
			assert.True(t, ValidateDataTypes(ds, ds).Passed)
			assert.True(t, ValidateDataIntegrity(ds, ds).Passed)
			assert.True(t, ValidateDataMultiset(ds, ds).Passed)
		})
	}
}

func TestRowCount_OneRowMissing(t *testing.T) {
	source := sample(t)
	target := customers(t,
		[]any{1, "Ann", "ann@x.com"},
		[]any{2, "Bob", "bob@x.com"},
		[]any{3, "Cid", nil},
	)

	rc := ValidateRowCount(source, target)
	assert.False(t, rc.Passed)
	assert.Nil(t, rc.MismatchIndex)
	assert.Contains(t, rc.Detail, "source=4 target=3")

	di := ValidateDataIntegrity(source, target)
	assert.False(t, di.Passed)
	assert.Contains(t, di.Detail, "1 distinct rows only in source, 0 only in target")
	assert.Contains(t, di.Detail, "Dee")
}

func TestSchema_NameMismatchReportsIndex(t *testing.T) {
	source := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}, {Name: "name", Type: "VARCHAR"}})
	target := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}, {Name: "nm", Type: "VARCHAR"}})

	o := ValidateSchema(source, target)
	require.False(t, o.Passed)
	require.NotNil(t, o.MismatchIndex)
	assert.Equal(t, 1, *o.MismatchIndex)
}

func TestSchema_StopsAtFirstMismatch(t *testing.T) {
	source := withSchema(t, dataset.Schema{{Name: "a", Type: "INT"}, {Name: "b", Type: "INT"}, {Name: "c", Type: "INT"}})
	target := withSchema(t, dataset.Schema{{Name: "a", Type: "INT"}, {Name: "x", Type: "INT"}, {Name: "y", Type: "DATE"}})

	o := ValidateSchema(source, target)
	require.NotNil(t, o.MismatchIndex)
	assert.Equal(t, 1, *o.MismatchIndex)
}

func TestSchema_ColumnCountMismatchHasNoIndex(t *testing.T) {
	source := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}})
	target := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}, {Name: "name", Type: "VARCHAR"}})

	o := ValidateSchema(source, target)
	assert.False(t, o.Passed)
	assert.Nil(t, o.MismatchIndex)
	assert.Contains(t, o.Detail, "column count mismatch")
}

func TestDataTypes(t *testing.T) {
	source := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}, {Name: "name", Type: "VARCHAR"}})
	target := withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}, {Name: "name", Type: "INT"}})

	o := ValidateDataTypes(source, target)
	require.False(t, o.Passed)
	require.NotNil(t, o.MismatchIndex)
	assert.Equal(t, 1, *o.MismatchIndex)
}

func TestDataTypes_IgnoresNamesRowsAndExtraColumns(t *testing.T) {
	source := withSchema(t, dataset.Schema{{Name: "a", Type: "INT"}, {Name: "b", Type: "VARCHAR"}}, []any{1, "x"})
	target := withSchema(t, dataset.Schema{{Name: "x", Type: "INT"}, {Name: "y", Type: "VARCHAR"}, {Name: "z", Type: "DATE"}})

	assert.True(t, ValidateDataTypes(source, target).Passed)
}

func TestNullValues(t *testing.T) {
	schema := dataset.Schema{{Name: "id", Type: "INT"}, {Name: "email", Type: "VARCHAR"}}
	ds, err := dataset.FromMaps(schema, []map[string]any{
		{"id": 1, "email": "a@x.com"},
		{"id": 2, "email": nil},
	})
	require.NoError(t, err)

	o, err := ValidateNullValues(ds, []string{"email"})
	require.NoError(t, err)
	assert.False(t, o.Passed)
	require.NotNil(t, o.MismatchIndex)
	assert.Equal(t, 1, *o.MismatchIndex)

	o, err = ValidateNullValues(ds, []string{"id"})
	require.NoError(t, err)
	assert.True(t, o.Passed)
}

func TestNullValues_UnknownColumnIsCallerError(t *testing.T) {
	_, err := ValidateNullValues(sample(t), []string{"phone"})
	assert.ErrorContains(t, err, `unknown column "phone"`)
}

func TestNoDuplicates(t *testing.T) {
	ids := func(vals ...int) *dataset.Dataset {
		rows := make([][]any, len(vals))
		for i, v := range vals {
			rows[i] = []any{v}
		}
		return withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}}, rows...)
	}

	o, err := ValidateNoDuplicates(ids(1, 2, 2, 3), []string{"id"})
	require.NoError(t, err)
	assert.False(t, o.Passed)
	assert.Contains(t, o.Detail, `key "2" occurs 2 times`)
	require.NotNil(t, o.MismatchIndex)
	assert.Equal(t, 2, *o.MismatchIndex)

	o, err = ValidateNoDuplicates(ids(1, 2, 3), []string{"id"})
	require.NoError(t, err)
	assert.True(t, o.Passed)
}

func TestNoDuplicates_CompositeKey(t *testing.T) {
	ds := withSchema(t, dataset.Schema{{Name: "a"}, {Name: "b"}},
		[]any{"x", 1},
		[]any{"x", 2},
		[]any{"x", nil},
		[]any{"x", nil},
	)

	o, err := ValidateNoDuplicates(ds, []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, o.Passed)
	assert.Contains(t, o.Detail, `"x|null"`)
}

func TestNoDuplicates_EmptyKeyColumnsIsOneKey(t *testing.T) {
	o, err := ValidateNoDuplicates(sample(t), nil)
	require.NoError(t, err)
	assert.False(t, o.Passed)

	single := customers(t, []any{1, "Ann", "ann@x.com"})
	o, err = ValidateNoDuplicates(single, nil)
	require.NoError(t, err)
	assert.True(t, o.Passed)
}

func TestDataIntegrity_IgnoresRowOrder(t *testing.T) {
	source := sample(t)
	rows := source.Rows()
	shuffled := make([][]any, len(rows))
	for i, p := range rand.New(rand.NewSource(7)).Perm(len(rows)) {
		r := rows[p]
		shuffled[i] = []any{r.At(0), r.At(1), r.At(2)}
	}
	target := customers(t, shuffled...)

	assert.True(t, ValidateDataIntegrity(source, target).Passed)
}

func TestDataIntegrity_SetSemanticsCollapseDuplicates(t *testing.T) {
	source := customers(t, []any{1, "Ann", "ann@x.com"})
	target := customers(t, []any{1, "Ann", "ann@x.com"}, []any{1, "Ann", "ann@x.com"})

	assert.True(t, ValidateDataIntegrity(source, target).Passed)

	strict := ValidateDataMultiset(source, target)
	assert.False(t, strict.Passed)
	assert.Contains(t, strict.Detail, "source=1 target=2")
}

func TestDataIntegrity_ValueDifference(t *testing.T) {
	source := customers(t, []any{1, "Ann", "ann@x.com"})
	target := customers(t, []any{1, "Ann", "ANN@x.com"})

	o := ValidateDataIntegrity(source, target)
	assert.False(t, o.Passed)
	assert.Contains(t, o.Detail, "- source: {id=1, name=Ann, email=ann@x.com}")
	assert.Contains(t, o.Detail, "+ target: {id=1, name=Ann, email=ANN@x.com}")
}

func TestDataIntegrity_NumbersEqualAcrossIntAndFloat(t *testing.T) {
	large := int64(1 << 60)
	assert.True(t, ValidateDataIntegrity(
		customers(t, []any{1, "Ann", large}),
		customers(t, []any{1.0, "Ann", float64(large)}),
	).Passed)
	assert.False(t, ValidateDataIntegrity(
		customers(t, []any{1, "Ann", large + 1}),
		customers(t, []any{1, "Ann", float64(large)}),
	).Passed)
}

func TestEngine_RunsEveryCheckWithoutShortCircuit(t *testing.T) {
	source := sample(t)
	target := customers(t, []any{1, "Ann", "ann@x.com"})

	outcomes, err := NewEngine(nil).Run(context.Background(), source, target, Options{
		CriticalColumns: []string{"email"},
		KeyColumns:      []string{"id"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, len(DefaultChecks))

	for i, k := range DefaultChecks {
		assert.Equal(t, k, outcomes[i].Check)
	}
	assert.False(t, outcomes[0].Passed, "row count")
	assert.True(t, outcomes[1].Passed, "schema")
	assert.True(t, outcomes[3].Passed, "nulls on target")
	assert.Equal(t, "target", outcomes[3].Dataset)
	assert.False(t, AllPassed(outcomes))
}

func TestEngine_BothSides(t *testing.T) {
	source := sample(t)
	outcomes, err := NewEngine(nil).Run(context.Background(), source, source, Options{
		Checks:          []CheckKind{CheckNullValues},
		CriticalColumns: []string{"email"},
		Side:            SideBoth,
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "source", outcomes[0].Dataset)
	assert.Equal(t, "target", outcomes[1].Dataset)
	assert.False(t, outcomes[0].Passed)
}

func TestEngine_CallerErrorSurfaces(t *testing.T) {
	ds := sample(t)
	_, err := NewEngine(nil).Run(context.Background(), ds, ds, Options{
		Checks:     []CheckKind{CheckRowCount, CheckNoDuplicates},
		KeyColumns: []string{"missing"},
	})
	assert.ErrorContains(t, err, "unknown column")
}

func TestOutcome_String(t *testing.T) {
	o := ValidateSchema(
		withSchema(t, dataset.Schema{{Name: "id", Type: "INT"}}),
		withSchema(t, dataset.Schema{{Name: "id", Type: "BIGINT"}}),
	)
	assert.Contains(t, o.String(), "Validation Result: FAILED")
	assert.Contains(t, o.String(), "mismatch index: 0")
}
