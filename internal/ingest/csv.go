// Package ingest turns an uploaded contact file into a dispatch.Dataset.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rfalcfilho/disparazap/internal/dispatch"
)

// IngestionError reports a file that could not be turned into a dataset.
type IngestionError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *IngestionError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.FileName != "" {
		return e.FileName + ": " + msg
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Err }

var supportedExtensions = map[string]bool{".csv": true, ".txt": true}

// Parse reads a delimited text file. The first record is the header; the
// delimiter is sniffed from it. Blank rows are skipped and every value is
// trimmed.
func Parse(fileName string, r io.Reader) (dispatch.Dataset, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !supportedExtensions[ext] {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "unsupported file format, upload a CSV file"}
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "read failed", Err: err}
	}
	head = trimBOM(head)
	if len(strings.TrimSpace(string(head))) == 0 {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "file is empty"}
	}
	skipBOM(br)

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(firstLine(string(head)))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "reading header", Err: err}
	}
	columns := headerColumns(header)
	if len(columns) == 0 {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "header has no column names"}
	}

	ds := dispatch.Dataset{FileName: fileName, Columns: columns}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: fmt.Sprintf("reading row %d", line), Err: err}
		}
		if blank(record) {
			continue
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}

	if len(ds.Rows) == 0 {
		return dispatch.Dataset{}, &IngestionError{FileName: fileName, Reason: "file has no data rows"}
	}
	return ds, nil
}

// headerColumns trims names, fills blanks and suffixes duplicates so every
// column has a unique key.
func headerColumns(header []string) []string {
	columns := make([]string, 0, len(header))
	seen := make(map[string]int, len(header))
	named := 0
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		} else {
			named++
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		columns = append(columns, name)
	}
	if named == 0 {
		return nil
	}
	return columns
}

func sniffDelimiter(line string) rune {
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

var bom = []byte{0xEF, 0xBB, 0xBF}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == bom[0] && b[1] == bom[1] && b[2] == bom[2] {
		return b[3:]
	}
	return b
}

func skipBOM(br *bufio.Reader) {
	if b, err := br.Peek(3); err == nil && len(trimBOM(b)) == 0 {
		_, _ = br.Discard(3)
	}
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var phoneColumnHints = []string{"phone", "telefone", "celular", "whatsapp", "mobile"}

// GuessPhoneColumn picks the first column whose name looks like a phone
// column, falling back to the first column.
func GuessPhoneColumn(columns []string) string {
	for _, col := range columns {
		lower := strings.ToLower(col)
		for _, hint := range phoneColumnHints {
			if strings.Contains(lower, hint) {
				return col
			}
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}
