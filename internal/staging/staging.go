// Package staging holds the full load staging artifact: one Parquet file per
// target table with every source column stored as nullable text.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/compress"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
)

// Path is <root>/<task>/<target_schema>.<target_table>.parquet.
func Path(root, task, targetSchema, targetTable string) string {
	return filepath.Join(root, task, targetSchema+"."+targetTable+".parquet")
}

type Writer struct {
	f      *os.File
	fw     *pqarrow.FileWriter
	schema *arrow.Schema
	rows   int
}

// Create truncates or creates the artifact at path.
func Create(path string, columns []string) (*Writer, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("staging %s: no columns", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet writer: %w", err)
	}
	return &Writer{f: f, fw: fw, schema: schema}, nil
}

// Write appends one row group. A nil value is NULL.
func (w *Writer) Write(rows [][]*string) error {
	if len(rows) == 0 {
		return nil
	}
	b := array.NewRecordBuilder(memory.DefaultAllocator, w.schema)
	defer b.Release()

	n := len(w.schema.Fields())
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("staging row %d: %d values for %d columns", w.rows+i, len(row), n)
		}
		for c, v := range row {
			sb := b.Field(c).(*array.StringBuilder)
			if v == nil {
				sb.AppendNull()
				continue
			}
			sb.Append(*v)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("write staging rows: %w", err)
	}
	w.rows += len(rows)
	return nil
}

func (w *Writer) Rows() int {
	return w.rows
}

func (w *Writer) Close() error {
	err := w.fw.Close()
	if cerr := w.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	return nil
}

type Data struct {
	Columns []string
	Rows    [][]*string
}

// Read loads the whole artifact back in row order.
func Read(ctx context.Context, path string) (*Data, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open staging file: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read staging file: %w", err)
	}
	defer tbl.Release()

	data := &Data{
		Columns: make([]string, tbl.NumCols()),
		Rows:    make([][]*string, tbl.NumRows()),
	}
	for r := range data.Rows {
		data.Rows[r] = make([]*string, tbl.NumCols())
	}
	for c := 0; c < int(tbl.NumCols()); c++ {
		col := tbl.Column(c)
		data.Columns[c] = col.Name()
		r := 0
		for _, chunk := range col.Data().Chunks() {
			strs, ok := chunk.(*array.String)
			if !ok {
				return nil, fmt.Errorf("staging column %s: unexpected type %s", col.Name(), chunk.DataType())
			}
			for i := 0; i < strs.Len(); i++ {
				if !strs.IsNull(i) {
					v := strs.Value(i)
					data.Rows[r][c] = &v
				}
				r++
			}
		}
	}
	return data, nil
}

// Remove deletes the artifact. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}
