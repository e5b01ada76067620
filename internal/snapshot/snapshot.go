// Package snapshot exports the datasets of a run as parquet files to the
// object store, so the compared data can be audited afterwards.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"etlverify/internal/dataset"
	"etlverify/internal/objectstore"
)

// Encode writes ds as a snappy-compressed parquet file. Every column is
// OPTIONAL; its physical type follows the values it holds.
func Encode(ds *dataset.Dataset) ([]byte, error) {
	schema := ds.Schema()
	types := physicalTypes(ds)

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(schemaJSON(schema, types), pfw, 4)
	if err != nil {
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < ds.Len(); i++ {
		rec, err := rowJSON(ds.Row(i), schema, types)
		if err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}

func physicalTypes(ds *dataset.Dataset) []string {
	schema := ds.Schema()
	types := make([]string, len(schema))
	for c := range schema {
		kind := dataset.KindNull
		mixed := false
		integral := true
		for i := 0; i < ds.Len(); i++ {
			v := ds.Row(i).At(c)
			k := dataset.KindOf(v)
			if k == dataset.KindNull {
				continue
			}
			if _, ok := v.(float64); ok {
				integral = false
			}
			if kind != dataset.KindNull && k != kind {
				mixed = true
			}
			kind = k
		}
		switch {
		case mixed:
			types[c] = "BYTE_ARRAY"
		case kind == dataset.KindBool:
			types[c] = "BOOLEAN"
		case kind == dataset.KindNumber && integral:
			types[c] = "INT64"
		case kind == dataset.KindNumber:
			types[c] = "DOUBLE"
		default:
			types[c] = "BYTE_ARRAY"
		}
	}
	return types
}

func schemaJSON(schema dataset.Schema, types []string) string {
	fields := make([]map[string]string, len(schema))
	for i, c := range schema {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", c.Name, types[i])
		if types[i] == "BYTE_ARRAY" {
			tag += ", convertedtype=UTF8"
		}
		fields[i] = map[string]string{"Tag": tag}
	}
	b, _ := json.Marshal(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	return string(b)
}

func rowJSON(row dataset.Row, schema dataset.Schema, types []string) (string, error) {
	rec := make(map[string]any, len(schema))
	for i, c := range schema {
		v := row.At(i)
		if v != nil && types[i] == "BYTE_ARRAY" {
			v = dataset.Format(v)
		}
		rec[c.Name] = v
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(b), nil
}

// Exporter uploads snapshots under <prefix>/<runID>/<side>.parquet.
type Exporter struct {
	Store  objectstore.Store
	Bucket string
	Prefix string
}

// Export encodes ds and uploads it, returning its s3 URL.
func (e *Exporter) Export(ctx context.Context, runID, side string, ds *dataset.Dataset) (string, error) {
	data, err := Encode(ds)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", side, err)
	}
	key := path.Join(strings.Trim(e.Prefix, "/"), runID, side+".parquet")
	if err := e.Store.Put(ctx, e.Bucket, key, data); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", side, err)
	}
	return "s3://" + e.Bucket + "/" + key, nil
}
