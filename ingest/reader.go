package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported data format")

// Table is the raw tabular content of one input file. Every row has exactly
// len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a ';'-separated txt/csv file or the first sheet of an xlsx
// workbook. The first row is the header.
func ReadTable(path string, format string) (*Table, error) {
	switch strings.ToLower(format) {
	case "txt", "csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readDelimited(f)
	case "xlsx":
		return readWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func readDelimited(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.TrimLeadingSpace = true
	// Addresses carry bare quotes, e.g. TC "Mega".
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return newTable(records)
}

func readWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	// Raw values keep dates as serial numbers instead of locale formatting.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	// Trailing empty cells are omitted by excelize; pad rows back up.
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	records := make([][]string, 0, len(rows))
	for i, row := range rows {
		if i > 0 && blank(row) {
			continue
		}
		if len(row) > width {
			return nil, fmt.Errorf("row %d has %d cells, header has %d", i+1, len(row), width)
		}
		for len(row) < width {
			row = append(row, "")
		}
		records = append(records, row)
	}
	return newTable(records)
}

func newTable(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no header row")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return &Table{Header: header, Rows: records[1:]}, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Columns resolves the position of each named column. Missing columns are an
// error; extra columns are ignored.
func (t *Table) Columns(names ...string) ([]int, error) {
	pos := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	out := make([]int, len(names))
	var missing []string
	for i, n := range names {
		p, ok := pos[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
