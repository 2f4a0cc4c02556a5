package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/coredb/coredb/internal/catalog"
	"github.com/coredb/coredb/internal/engine"
)

// textEncodingByName resolves the handful of encodings .export/.import
// accept on their optional trailing argument. An empty name means plain
// UTF-8 with no BOM handling.
func textEncodingByName(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf8", "utf-8":
		return encoding.Nop, nil
	case "utf8bom", "utf-8-bom":
		return unicode.UTF8BOM, nil
	case "latin1", "iso8859-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q (want utf8, utf8bom, or latin1)", name)
	}
}

// exportTable runs a full scan of table and writes it as CSV (header row
// plus one row per record) through enc's encoder to path.
func exportTable(ex *engine.Executor, user, table, path string, enc encoding.Encoding) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(transform.NewWriter(f, enc.NewEncoder()))
	result, err := ex.Execute(user, &engine.Plan{Kind: engine.KindSeqScan, Table: table})
	if err != nil {
		return 0, err
	}
	it := result.Rows
	defer it.Close()

	n := 0
	for {
		row, ok, err := it.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		if n == 0 {
			if err := w.Write(row.Columns); err != nil {
				return n, err
			}
		}
		if err := w.Write(row.Values); err != nil {
			return n, err
		}
		n++
	}
	w.Flush()
	return n, w.Error()
}

// importTable reads CSV (header row naming columns, one row per record)
// through enc's decoder from path and issues one Insert plan per row. If
// continueOnError is false, the first row failure aborts the whole
// import and that error is returned; otherwise failed rows are skipped
// and reported individually, and importTable itself returns nil.
func importTable(ex *engine.Executor, user, table, path string, enc encoding.Encoding, continueOnError bool, out io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, enc.NewDecoder()))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	n := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if continueOnError {
				fmt.Fprintln(out, "skipping unreadable row:", err)
				continue
			}
			return n, err
		}
		plan := &engine.Plan{Kind: engine.KindInsert, Table: table, Columns: header, Rows: [][]string{record}}
		if _, err := ex.Execute(user, plan); err != nil {
			if continueOnError {
				fmt.Fprintln(out, "skipping row:", err)
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// dumpAll writes every known table to its own CSV file under dir, named
// after the table.
func dumpAll(cat *catalog.Catalog, ex *engine.Executor, user, dir string, out io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, t := range cat.GetAllTables() {
		path := filepath.Join(dir, t.TableName+".csv")
		n, err := exportTable(ex, user, t.TableName, path, encoding.Nop)
		if err != nil {
			return fmt.Errorf("dump %s: %w", t.TableName, err)
		}
		fmt.Fprintf(out, "%s: %d row(s) -> %s\n", t.TableName, n, path)
	}
	return nil
}
