package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/cardiorisk/pkg/common/config"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var (
	ErrUnknownEncoding = errors.New("unknown encoding")
	ErrUnknownFormat   = errors.New("unknown table format")
	ErrEmptyTable      = errors.New("table has no header row")
	ErrRaggedRow       = errors.New("row has more fields than the header")
)

// Options controls how a delimited or spreadsheet input is decoded.
type Options struct {
	Delimiter   rune
	Encoding    string
	NASentinels []string
	LazyQuotes  bool
	Sheet       string
}

func DefaultOptions() Options {
	return Options{
		Delimiter:   ',',
		Encoding:    "utf-8",
		NASentinels: config.DefaultNASentinels,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Delimiter:   cfg.Delimiter,
		Encoding:    cfg.Encoding,
		NASentinels: cfg.NASentinels,
		LazyQuotes:  cfg.LazyQuotes,
		Sheet:       cfg.Sheet,
	}
}

// FormatFromPath picks the reader by file extension, defaulting to delimited text.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Table is an in-memory tabular input. Cells equal to one of the NA sentinels are
// reported as missing by Value.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
	na    map[string]struct{}
}

func newTable(header []string, rows [][]string, sentinels []string) *Table {
	t := &Table{
		Header: header,
		Rows:   rows,
		index:  make(map[string]int, len(header)),
		na:     make(map[string]struct{}, len(sentinels)),
	}
	for i, name := range header {
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
	for _, s := range sentinels {
		t.na[s] = struct{}{}
	}
	return t
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Value returns the cell at row/column and false when the column is absent or the
// cell is a missing-value sentinel.
func (t *Table) Value(row int, column string) (string, bool) {
	col, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.Rows) {
		return "", false
	}
	cells := t.Rows[row]
	if col >= len(cells) {
		return "", false
	}
	v := cells[col]
	if _, missing := t.na[v]; missing {
		return "", false
	}
	return v, true
}

// String returns the cell value, or "" when missing.
func (t *Table) String(row int, column string) string {
	v, _ := t.Value(row, column)
	return v
}

func ReadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadTable(f, FormatFromPath(path), opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}

func ReadTable(r io.Reader, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatCSV, "":
		return readDelimited(r, opts)
	case FormatXLSX:
		return readSpreadsheet(r, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func readDelimited(r io.Reader, opts Options) (*Table, error) {
	name := opts.Encoding
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))

	cr := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header = cleanHeader(header)

	var rows [][]string
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line, err)
		}
		row, err := fitRow(record, len(header))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rows = append(rows, row)
	}

	return newTable(header, rows, opts.NASentinels), nil
}

func readSpreadsheet(r io.Reader, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(all) == 0 {
		return nil, ErrEmptyTable
	}

	header := cleanHeader(all[0])
	rows := make([][]string, 0, len(all)-1)
	for i, record := range all[1:] {
		row, err := fitRow(record, len(header))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return newTable(header, rows, opts.NASentinels), nil
}

// fitRow pads short rows with empty cells; extra non-empty cells are an error.
func fitRow(record []string, width int) ([]string, error) {
	if len(record) > width {
		for _, extra := range record[width:] {
			if strings.TrimSpace(extra) != "" {
				return nil, fmt.Errorf("%w: expected %d, got %d", ErrRaggedRow, width, len(record))
			}
		}
		return record[:width], nil
	}
	if len(record) < width {
		padded := make([]string, width)
		copy(padded, record)
		return padded, nil
	}
	return record, nil
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return out
}
