package pipeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/permit-leads/internal/model"
)

// Reader decodes one permit per NDJSON line. Blank lines are skipped.
type Reader struct {
	dec  *json.Decoder
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(bufio.NewReaderSize(r, 1<<16))}
}

// Next returns the next row, or io.EOF when the input is exhausted.
func (r *Reader) Next() (model.Permit, error) {
	var p model.Permit
	if err := r.dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, io.EOF
		}
		return p, eris.Wrapf(err, "pipeline: decode record %d", r.line+1)
	}
	r.line++
	return p, nil
}

// ReadAll collects every remaining row.
func (r *Reader) ReadAll() ([]model.Permit, error) {
	var rows []model.Permit
	for {
		p, err := r.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, p)
	}
}

// Writer encodes one permit per line. Call Flush when done.
type Writer struct {
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriterSize(w, 1<<16)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// Write encodes p followed by a newline.
func (w *Writer) Write(p model.Permit) error {
	if p.Raw == nil {
		p.Raw = map[string]string{}
	}
	if err := w.enc.Encode(p); err != nil {
		return eris.Wrap(err, "pipeline: encode record")
	}
	return nil
}

// WriteAll encodes every row.
func (w *Writer) WriteAll(rows []model.Permit) error {
	for _, p := range rows {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	return eris.Wrap(w.buf.Flush(), "pipeline: flush output")
}
