package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Format is a dataset file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// xlsxMagic is the zip local file header every XLSX workbook starts with.
var xlsxMagic = []byte("PK\x03\x04")

// DetectFormat picks a format from a file name or content type, falling back to
// sniffing the first bytes.
func DetectFormat(name, contentType string, head []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "spreadsheetml"):
		return FormatXLSX, nil
	case strings.Contains(ct, "csv"):
		return FormatCSV, nil
	}

	if bytes.HasPrefix(head, xlsxMagic) {
		return FormatXLSX, nil
	}
	if len(head) > 0 && bytes.IndexByte(head, 0) < 0 {
		return FormatCSV, nil
	}
	return "", ErrUnsupportedFormat
}

// ParseCSV reads records from comma-separated text with a header row.
func ParseCSV(r io.Reader) ([]domain.ThreatActorRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	return parseTable(rows[0], rows[1:])
}

// ParseXLSX reads records from a workbook sheet. An empty sheet name selects
// the first sheet.
func ParseXLSX(r io.Reader, sheet string) ([]domain.ThreatActorRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets: %w", ErrNoHeader)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	return parseTable(rows[0], rows[1:])
}

// Parse reads records in the given format.
func Parse(r io.Reader, format Format, sheet string) ([]domain.ThreatActorRecord, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(r)
	case FormatXLSX:
		return ParseXLSX(r, sheet)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Read sniffs the format of r and builds a dataset from it.
func Read(r io.Reader, name, contentType, sheet string) (*domain.Dataset, Format, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", fmt.Errorf("failed to read dataset: %w", err)
	}

	format, err := DetectFormat(name, contentType, head)
	if err != nil {
		return nil, "", err
	}

	records, err := Parse(br, format, sheet)
	if err != nil {
		return nil, format, err
	}

	if name == "" {
		name = "dataset-" + time.Now().UTC().Format("20060102T150405Z")
	}
	return domain.NewDataset(uuid.New().String(), name, records, time.Now().UTC()), format, nil
}

// Load reads a dataset file from disk.
func Load(path, sheet string) (*domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, _, err := Read(f, filepath.Base(path), "", sheet)
	return ds, err
}
