package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

func (r *Reader) readCSV(content []byte) (*Batch, error) {
	cr := csv.NewReader(bytes.NewReader(content))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return &Batch{}, nil
	}
	h, err := parseHeader(records[0])
	if err != nil {
		return nil, fmt.Errorf("parse CSV header: %w", err)
	}
	return r.collect(h, records[1:], 2), nil
}
