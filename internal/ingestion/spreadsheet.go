package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/outreach-agent/internal/types"
)

// Supported input formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// SpreadsheetSource reads companies from an .xlsx or .csv file.
// The header row is the first row, after SkipRows, that names a company column.
type SpreadsheetSource struct {
	Path string
	// Sheet selects the workbook sheet; empty means the first sheet.
	Sheet string
	// SkipRows ignores this many leading rows before looking for the header.
	SkipRows int

	metadata *Metadata
}

// NewSpreadsheetSource creates a source for path.
func NewSpreadsheetSource(path, sheet string, skipRows int) *SpreadsheetSource {
	return &SpreadsheetSource{Path: path, Sheet: sheet, SkipRows: skipRows}
}

// Metadata returns details about the last successful load, or nil.
func (s *SpreadsheetSource) Metadata() *Metadata {
	return s.metadata
}

// LoadCompanies reads every non-blank data row. Rows are returned as read; call
// ValidateRows to reject malformed and duplicate entries.
func (s *SpreadsheetSource) LoadCompanies(ctx context.Context) ([]types.CompanyRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Message: "input file not found: " + s.Path, Cause: err}
		}
		return nil, &LoadError{Message: "failed to read " + s.Path, Cause: err}
	}

	format := DetectFormat(s.Path)
	var grid [][]string
	sheet := ""
	switch format {
	case FormatXLSX:
		grid, sheet, err = readWorkbook(content, s.Sheet)
	case FormatCSV:
		grid, err = readCSV(content)
	default:
		return nil, &LoadError{Message: fmt.Sprintf("unsupported input format %q", filepath.Ext(s.Path))}
	}
	if err != nil {
		return nil, err
	}

	rows, err := parseGrid(grid, s.SkipRows)
	if err != nil {
		return nil, err
	}

	meta := NewMetadata(content, s.Path, format)
	meta.Sheet = sheet
	meta.Rows = len(rows)
	s.metadata = meta
	return rows, nil
}

// DetectFormat returns the input format implied by the file extension.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	default:
		return ""
	}
}

func readWorkbook(content []byte, sheet string) ([][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, "", &LoadError{Message: "failed to open workbook", Cause: err}
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, "", &LoadError{Message: "workbook has no sheets"}
		}
		sheet = sheets[0]
	}
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		return nil, "", &LoadError{Message: fmt.Sprintf("sheet %q not found", sheet)}
	}

	grid, err := f.GetRows(sheet)
	if err != nil {
		return nil, "", &LoadError{Message: fmt.Sprintf("failed to read sheet %q", sheet), Cause: err}
	}
	return grid, sheet, nil
}

func readCSV(content []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var grid [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Message: "failed to parse csv", Cause: err}
		}
		grid = append(grid, record)
	}
	return grid, nil
}

// parseGrid finds the header and converts the remaining rows. Row numbers are 1-based
// positions in the original sheet so operators can find them.
func parseGrid(grid [][]string, skipRows int) ([]types.CompanyRow, error) {
	if skipRows < 0 {
		skipRows = 0
	}

	headerIndex := -1
	var cols columnMap
	for i := skipRows; i < len(grid); i++ {
		if m, ok := mapHeader(grid[i]); ok {
			headerIndex = i
			cols = m
			break
		}
	}
	if headerIndex == -1 {
		return nil, &LoadError{Message: "no header row with a company column found"}
	}

	var rows []types.CompanyRow
	for i := headerIndex + 1; i < len(grid); i++ {
		cells := grid[i]
		if isBlankRow(cells) {
			continue
		}
		rows = append(rows, types.CompanyRow{
			Row:         i + 1,
			Name:        cols.get(cells, fieldName),
			Website:     cols.get(cells, fieldWebsite),
			ProfileURL:  cols.get(cells, fieldProfileURL),
			Industry:    cols.get(cells, fieldIndustry),
			Location:    cols.get(cells, fieldLocation),
			Description: cols.get(cells, fieldDescription),
		})
	}
	return rows, nil
}
