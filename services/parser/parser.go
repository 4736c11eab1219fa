// Package parser turns uploaded donor spreadsheets into an ordered stream of
// rows. Bad cells never stop the stream; they flag the row instead.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"donorflow/apperrors"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLS  Format = "xls"
	FormatXLSX Format = "xlsx"
)

const (
	mimeCSV  = "text/csv"
	mimeXLS  = "application/vnd.ms-excel"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ErrUnsupportedFormat = apperrors.Validation("unsupported file format: only CSV, XLS and XLSX are accepted")
	ErrSizeLimitExceeded = apperrors.Validation("file exceeds the upload size limit")
	ErrEmptyFile         = apperrors.Validation("file has no header row")
	ErrNoDonorColumns    = apperrors.Validation("file has no recognized donor columns")
)

// Row is one data row. Number is the 1-based row in the source file, header
// included, so it matches what a spreadsheet shows.
type Row struct {
	Number int
	Values map[string]string // canonical field -> raw cell
	Extra  map[string]string // unrecognized header -> raw cell
	Record DonorRecord
	Err    error
}

// DetectFormat picks the format from the file extension, then the declared
// content type, then the content itself.
func DetectFormat(filename, contentType string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xls":
		return FormatXLS, nil
	case ".xlsx":
		return FormatXLSX, nil
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case mimeCSV, "application/csv":
			return FormatCSV, nil
		case mimeXLS:
			return FormatXLS, nil
		case mimeXLSX:
			return FormatXLSX, nil
		}
	}

	detected := mimetype.Detect(data)
	switch {
	case detected.Is(mimeCSV):
		return FormatCSV, nil
	case detected.Is(mimeXLSX):
		return FormatXLSX, nil
	case detected.Is(mimeXLS):
		return FormatXLS, nil
	}
	return "", fmt.Errorf("%w (detected %s)", ErrUnsupportedFormat, detected.String())
}

// Open validates an upload and reads its header. It fails with a
// validation error for oversize, unknown-format or headerless files.
func Open(data []byte, filename, contentType string, limit int64) (*Stream, error) {
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes, limit %d)", ErrSizeLimitExceeded, len(data), limit)
	}

	format, err := DetectFormat(filename, contentType, data)
	if err != nil {
		return nil, err
	}

	var src, counter rowSource
	switch format {
	case FormatCSV:
		src, counter = newCSVSource(data), newCSVSource(data)
	case FormatXLSX:
		rows, err := readXLSX(data)
		if err != nil {
			return nil, apperrors.Validation("unreadable XLSX file: %v", err)
		}
		src, counter = newSliceSource(rows), newSliceSource(rows)
	case FormatXLS:
		rows, err := readXLS(data)
		if err != nil {
			return nil, apperrors.Validation("unreadable XLS file: %v", err)
		}
		src, counter = newSliceSource(rows), newSliceSource(rows)
	}

	s := &Stream{format: format, src: src}
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	s.total, s.totalKnown = countRows(counter)
	return s, nil
}

// Stream is a finite, forward-only sequence of rows.
type Stream struct {
	format       Format
	src          rowSource
	header       []string
	fields       []string // canonical field per column, "" when unrecognized
	unrecognized []string
	total        int
	totalKnown   bool
	done         bool
}

func (s *Stream) Format() Format { return s.format }

// Total is the number of data rows, when known up front.
func (s *Stream) Total() (int, bool) { return s.total, s.totalKnown }

// Columns returns the header as it appeared in the file.
func (s *Stream) Columns() []string { return append([]string(nil), s.header...) }

// Unrecognized lists headers kept as passthrough metadata.
func (s *Stream) Unrecognized() []string { return append([]string(nil), s.unrecognized...) }

func (s *Stream) readHeader() error {
	for {
		cells, _, err := s.src.next()
		if errors.Is(err, io.EOF) {
			return ErrEmptyFile
		}
		if err != nil {
			return apperrors.Validation("unreadable header row: %v", err)
		}
		if isBlank(cells) {
			continue
		}

		s.header = make([]string, len(cells))
		s.fields = make([]string, len(cells))
		seen := make(map[string]bool)
		recognized := 0
		for i, cell := range cells {
			name := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
			s.header[i] = name
			field, ok := CanonicalField(name)
			if ok && !seen[field] {
				seen[field] = true
				s.fields[i] = field
				recognized++
				continue
			}
			if name != "" {
				s.unrecognized = append(s.unrecognized, name)
			}
		}
		if recognized == 0 {
			return ErrNoDonorColumns
		}
		return nil
	}
}

// Next returns the next data row. The second result is false once the
// stream is exhausted.
func (s *Stream) Next() (Row, bool) {
	if s.done {
		return Row{}, false
	}
	for {
		cells, line, err := s.src.next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return Row{}, false
		}
		if err != nil {
			return Row{Number: line, Err: fmt.Errorf("unreadable row: %w", err)}, true
		}
		if isBlank(cells) {
			continue
		}
		return s.buildRow(line, cells), true
	}
}

func (s *Stream) buildRow(line int, cells []string) Row {
	row := Row{
		Number: line,
		Values: make(map[string]string, len(s.fields)),
		Extra:  make(map[string]string),
	}
	for i, cell := range cells {
		if i >= len(s.fields) {
			row.Extra[fmt.Sprintf("column_%d", i+1)] = cell
			continue
		}
		if field := s.fields[i]; field != "" {
			row.Values[field] = cell
		} else if s.header[i] != "" {
			row.Extra[s.header[i]] = cell
		}
	}

	rec, problems := buildRecord(row.Values)
	row.Record = rec
	if len(problems) > 0 {
		row.Err = errors.New(strings.Join(problems, "; "))
	}
	return row
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// countRows counts the non-blank rows after the header.
func countRows(src rowSource) (int, bool) {
	n := 0
	headerSeen := false
	for {
		cells, _, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil && isBlank(cells) {
			continue
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		n++
	}
	return n, true
}

type rowSource interface {
	// next returns the cells of the next record and its 1-based line.
	next() ([]string, int, error)
}

type csvSource struct {
	r    *csv.Reader
	last int
}

func newCSVSource(data []byte) *csvSource {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = false
	return &csvSource{r: r}
}

func (c *csvSource) next() ([]string, int, error) {
	record, err := c.r.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			c.last = parseErr.StartLine
			return nil, parseErr.StartLine, err
		}
		return nil, c.last + 1, err
	}
	line, _ := c.r.FieldPos(0)
	c.last = line
	return record, line, nil
}

type sliceSource struct {
	rows [][]string
	pos  int
}

func newSliceSource(rows [][]string) *sliceSource {
	return &sliceSource{rows: rows}
}

func (s *sliceSource) next() ([]string, int, error) {
	if s.pos >= len(s.rows) {
		return nil, s.pos + 1, io.EOF
	}
	s.pos++
	return s.rows[s.pos-1], s.pos, nil
}

// readXLSX loads the first worksheet with cell formatting applied.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// readXLS loads the first worksheet of a legacy BIFF workbook.
func readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.New("workbook has no sheets")
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
