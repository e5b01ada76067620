package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"etlverify/internal/apperr"
	"etlverify/internal/dataset"
)

// Column types assigned to delimited files.
const (
	TypeVarchar = "VARCHAR"
	TypeInt     = "INT"
	TypeDouble  = "DOUBLE"
	TypeBoolean = "BOOLEAN"
)

// CSVAdapter reads a delimited file whose first record is the header. Empty
// cells are null. Without InferTypes every column is VARCHAR and every value
// a string.
type CSVAdapter struct {
	Delimiter  rune
	InferTypes bool
}

func (a CSVAdapter) Read(r io.Reader) (*dataset.Dataset, error) {
	cr := csv.NewReader(r)
	if a.Delimiter != 0 {
		cr.Comma = a.Delimiter
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Source("read csv", errors.New("file has no header row"))
	}
	if err != nil {
		return nil, apperr.Source("read csv header", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Source("read csv", err)
		}
		records = append(records, rec)
	}

	schema := make(dataset.Schema, len(header))
	for i, name := range header {
		schema[i] = dataset.Column{Name: strings.TrimSpace(name), Type: TypeVarchar}
		if a.InferTypes {
			schema[i].Type = inferColumn(records, i)
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, cell := range rec {
			v, err := convertCell(cell, schema[j].Type)
			if err != nil {
				return nil, apperr.Source("read csv", fmt.Errorf("line %d column %q: %w", i+2, schema[j].Name, err))
			}
			row[j] = v
		}
		rows[i] = row
	}

	ds, err := dataset.New(schema, rows)
	if err != nil {
		return nil, apperr.Source("read csv", err)
	}
	return ds, nil
}

func inferColumn(records [][]string, col int) string {
	isInt, isFloat, isBool, seen := true, true, true, false
	for _, rec := range records {
		cell := rec[col]
		if cell == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if l := strings.ToLower(cell); l != "true" && l != "false" {
				isBool = false
			}
		}
	}
	switch {
	case !seen:
		return TypeVarchar
	case isInt:
		return TypeInt
	case isFloat:
		return TypeDouble
	case isBool:
		return TypeBoolean
	}
	return TypeVarchar
}

func convertCell(cell, typ string) (any, error) {
	if cell == "" {
		return nil, nil
	}
	switch typ {
	case TypeInt:
		return strconv.ParseInt(cell, 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(cell, 64)
	case TypeBoolean:
		return strconv.ParseBool(strings.ToLower(cell))
	}
	return cell, nil
}
