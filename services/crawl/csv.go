package crawl

import (
	"bufio"
	"encoding/csv"
	"equity-crawler/lib/scrapers/yahoo"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	fullHeader   = []string{"symbol", "name", "exchange", "market_cap", "price", "currency", "region"}
	strictHeader = []string{"symbol", "name", "price"}
)

// WriteCSV writes rows to path through a temp file in the same directory,
// renamed into place once fully flushed. A failed run never leaves a
// partial file behind.
func WriteCSV(rows []yahoo.EquityRow, path string, region string, strict bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if strict {
		err = writeStrict(tmp, rows)
	} else {
		err = writeFull(tmp, rows, region)
	}
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// writeFull emits the seven column layout, quoting only fields that need it.
func writeFull(out io.Writer, rows []yahoo.EquityRow, region string) error {
	w := csv.NewWriter(out)
	if err := w.Write(fullHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Symbol,
			row.Name,
			row.Exchange,
			cell(row.MarketCap),
			cell(row.Price),
			row.Currency,
			region,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// writeStrict emits the three column layout with every field quoted.
func writeStrict(out io.Writer, rows []yahoo.EquityRow) error {
	w := bufio.NewWriter(out)
	line := func(fields []string) {
		for i, field := range fields {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteByte('"')
			w.WriteString(strings.ReplaceAll(field, `"`, `""`))
			w.WriteByte('"')
		}
		w.WriteByte('\n')
	}
	line(strictHeader)
	for _, row := range rows {
		line([]string{row.Symbol, row.Name, cell(row.Price)})
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// cell renders one scalar cell, with absent values as empty strings.
func cell(v any) string {
	if !yahoo.Truthy(v) {
		return ""
	}
	return yahoo.Text(v)
}
