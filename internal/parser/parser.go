// Package parser turns municipal permit exports (CSV, XLSX and HTML tables)
// into raw permit rows. Every cell is read as text.
package parser

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/model"
)

// ErrUnsupportedFormat is returned for files the parser cannot read.
var ErrUnsupportedFormat = eris.New("parser: unsupported file format")

// Format identifies how a source file is read.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	oleMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM   = "\ufeff"
	sniffSize = 512
)

// DetectFormat picks the reader for path from its extension. Portals often
// serve HTML tables or OOXML workbooks under a .xls name, so .xls files are
// sniffed; genuine legacy binary workbooks are rejected.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".htm", ".html":
		return FormatHTML, nil
	case ".xls":
		return sniffXLS(path)
	}
	return "", eris.Wrapf(ErrUnsupportedFormat, "extension %q of %s", ext, path)
}

func sniffXLS(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "parser: open xls")
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", eris.Wrap(err, "parser: sniff xls")
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(head, oleMagic):
		return "", eris.Wrapf(ErrUnsupportedFormat, "legacy binary workbook %s; re-export it as .xlsx or .csv", path)
	case bytes.Contains(bytes.ToLower(head), []byte("<")):
		return FormatHTML, nil
	}
	return "", eris.Wrapf(ErrUnsupportedFormat, "unrecognized .xls content in %s", path)
}

// Parser maps source tables onto raw permit rows.
type Parser struct {
	mappings *Mappings
}

// New creates a Parser. A nil mappings value uses the built-in defaults.
func New(m *Mappings) *Parser {
	if m == nil {
		m = DefaultMappings()
	}
	return &Parser{mappings: m}
}

// Stream reads path and sends one raw row per data record. The first record
// is the header. The sequence cannot be resumed: a second call re-reads the
// file from the start. Format errors are reported before any row is sent.
// Both channels are closed when processing completes.
func (p *Parser) Stream(ctx context.Context, path, source string) (<-chan model.Permit, <-chan error) {
	outCh := make(chan model.Permit, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		format, err := DetectFormat(path)
		if err != nil {
			errCh <- err
			return
		}

		var (
			rows <-chan []string
			errs <-chan error
		)
		switch format {
		case FormatCSV:
			rows, errs = streamCSV(ctx, path)
		case FormatXLSX:
			rows, errs = streamXLSX(ctx, path)
		case FormatHTML:
			rows, errs = streamHTML(ctx, path)
		}

		log := zap.L().With(
			zap.String("source", source),
			zap.String("path", path),
			zap.String("format", string(format)),
		)

		var (
			header []string
			cols   columns
			count  int
		)
		for record := range rows {
			if header == nil {
				header = trimHeader(record)
				cols = resolve(header, p.mappings.For(source))
				log.Debug("parser: header", zap.Strings("columns", header))
				continue
			}
			if blank(record) {
				continue
			}

			select {
			case outCh <- buildPermit(source, header, cols, record):
				count++
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "parser: context cancelled")
				return
			}
		}

		if err := <-errs; err != nil {
			errCh <- eris.Wrapf(err, "parser: read %s", path)
			return
		}
		log.Info("parser: complete", zap.Int("rows", count))
	}()

	return outCh, errCh
}

func trimHeader(record []string) []string {
	header := make([]string, len(record))
	for i, h := range record {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = strings.TrimSpace(h)
	}
	return header
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// buildPermit maps one record onto a raw row. Every cell is kept in Raw under
// its header; unnamed or surplus columns are keyed by position. Fields with
// no matching column are empty strings.
func buildPermit(source string, header []string, cols columns, record []string) model.Permit {
	raw := make(map[string]string, len(header))
	for i, h := range header {
		v := ""
		if i < len(record) {
			v = strings.TrimSpace(record[i])
		}
		key := h
		if key == "" {
			key = positionalKey(i)
		}
		if _, dup := raw[key]; dup {
			key = positionalKey(i)
		}
		raw[key] = v
	}
	for i := len(header); i < len(record); i++ {
		raw[positionalKey(i)] = strings.TrimSpace(record[i])
	}

	p := model.Permit{
		Source:           source,
		ExternalPermitID: cols.value(FieldExternalPermitID, record),
		IssuedDate:       cols.value(FieldIssuedDate, record),
		Trade:            cols.value(FieldTrade, record),
		AddressRaw:       cols.value(FieldAddressRaw, record),
		Zipcode:          cols.value(FieldZipcode, record),
		City:             cols.value(FieldCity, record),
		State:            cols.value(FieldState, record),
		Raw:              raw,
	}
	if county := cols.value(FieldCounty, record); county != "" {
		p.County = &county
	}
	return p
}

func positionalKey(i int) string {
	return "column_" + strconv.Itoa(i+1)
}
