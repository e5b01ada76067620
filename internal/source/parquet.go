package source

import (
	"errors"
	"fmt"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	psource "github.com/xitongsys/parquet-go/source"

	"etlverify/internal/apperr"
	"etlverify/internal/dataset"
)

// ParquetAdapter reads flat parquet files: one column per leaf, typed by the
// leaf's physical type.
type ParquetAdapter struct {
	Parallelism int64
}

// ReadFile reads a local parquet file.
func (a ParquetAdapter) ReadFile(path string) (*dataset.Dataset, error) {
	pf, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, apperr.Source("open parquet "+path, err)
	}
	defer pf.Close()
	return a.read(pf)
}

// ReadBytes reads a parquet file held in memory.
func (a ParquetAdapter) ReadBytes(data []byte) (*dataset.Dataset, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, apperr.Source("open parquet buffer", err)
	}
	return a.read(pf)
}

func (a ParquetAdapter) read(pf psource.ParquetFile) (ds *dataset.Dataset, err error) {
	np := a.Parallelism
	if np <= 0 {
		np = 4
	}
	// the reader panics on some corrupt footers
	defer func() {
		if r := recover(); r != nil {
			ds, err = nil, apperr.Source("read parquet", fmt.Errorf("corrupt file: %v", r))
		}
	}()

	pr, err := reader.NewParquetColumnReader(pf, np)
	if err != nil {
		return nil, apperr.Source("read parquet footer", err)
	}
	defer pr.ReadStop()

	elems := pr.SchemaHandler.SchemaElements
	if len(elems) == 0 {
		return nil, apperr.Source("read parquet", errors.New("file has no schema"))
	}
	schema := make(dataset.Schema, 0, len(elems)-1)
	for i, el := range elems[1:] {
		if el.GetNumChildren() > 0 || el.Type == nil {
			return nil, apperr.Source("read parquet", fmt.Errorf("nested column %q is not supported", el.GetName()))
		}
		schema = append(schema, dataset.Column{
			Name: pr.SchemaHandler.Infos[i+1].ExName,
			Type: el.Type.String(),
		})
	}

	n := pr.GetNumRows()
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = make([]any, len(schema))
	}
	for c := range schema {
		values, _, _, err := pr.ReadColumnByIndex(int64(c), n)
		if err != nil {
			return nil, apperr.Source("read parquet column "+schema[c].Name, err)
		}
		if int64(len(values)) != n {
			return nil, apperr.Source("read parquet", fmt.Errorf("column %q has %d values, file has %d rows", schema[c].Name, len(values), n))
		}
		for r, v := range values {
			rows[r][c] = v
		}
	}

	ds, err = dataset.New(schema, rows)
	if err != nil {
		return nil, apperr.Source("read parquet", err)
	}
	return ds, nil
}
