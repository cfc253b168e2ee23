package ingest

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readXLSX reads the first sheet. Its first row is the header.
func (r *Reader) readXLSX(content []byte) (*Batch, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Batch{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &Batch{}, nil
	}
	h, err := parseHeader(rows[0])
	if err != nil {
		return nil, fmt.Errorf("parse sheet %q header: %w", sheets[0], err)
	}
	return r.collect(h, rows[1:], 2), nil
}
