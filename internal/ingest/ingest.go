// Package ingest reads admission quadruples from CSV, JSON, and XLSX files.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/uttree/internal/models"
)

// Extensions lists the file extensions the Reader understands.
var Extensions = []string{".csv", ".json", ".xlsx"}

// Supported reports whether ext (with leading dot) can be read.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// RowError describes a row that could not be turned into a quadruple.
// The rest of the file is still read.
type RowError struct {
	// Row is 1-based and counts the header row.
	Row         int
	AdmissionID string
	Err         error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (admission %s): %v", e.Row, e.AdmissionID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Batch is the parsed content of one file.
type Batch struct {
	// Admissions are in order of their first valid row.
	Admissions []*models.AdmissionInput
	Rejected   []*RowError
}

// Events returns the total number of parsed events.
func (b *Batch) Events() int {
	n := 0
	for _, a := range b.Admissions {
		n += len(a.Events)
	}
	return n
}

// Reader parses admission files. Timestamps without an explicit offset are
// read in the Reader's location.
type Reader struct {
	loc *time.Location
}

// NewReader returns a Reader for the given location (UTC when nil).
func NewReader(loc *time.Location) *Reader {
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{loc: loc}
}

// ReadFile reads the file at path and returns its admissions.
func (r *Reader) ReadFile(path string) (*Batch, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return r.ReadBytes(content, filepath.Ext(path))
}

// ReadBytes parses content based on the given extension.
// ext should include the leading dot (e.g. ".csv").
func (r *Reader) ReadBytes(content []byte, ext string) (*Batch, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return r.readCSV(content)
	case ".json":
		return DecodeJSON(content)
	case ".xlsx":
		return r.readXLSX(content)
	default:
		return nil, fmt.Errorf("unsupported file type %q (supported: %s)", ext, strings.Join(Extensions, ", "))
	}
}

// DecodeJSON accepts a single AdmissionInput object or an array of them.
// Array elements that cannot be decoded become RowErrors (Row is the 1-based
// element position) and the other admissions are kept. Events that cannot be
// decoded are carried on each admission's Rejected list.
func DecodeJSON(content []byte) (*Batch, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 || content[0] != '[' {
		var in models.AdmissionInput
		if err := json.Unmarshal(content, &in); err != nil {
			return nil, fmt.Errorf("decode JSON admission: %w", err)
		}
		return &Batch{Admissions: []*models.AdmissionInput{&in}}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(content, &raws); err != nil {
		return nil, fmt.Errorf("decode JSON admissions: %w", err)
	}
	b := &Batch{Admissions: make([]*models.AdmissionInput, 0, len(raws))}
	for i, raw := range raws {
		var in models.AdmissionInput
		if err := json.Unmarshal(raw, &in); err != nil {
			var id struct {
				AdmissionID string `json:"admission_id"`
			}
			_ = json.Unmarshal(raw, &id)
			b.Rejected = append(b.Rejected, &RowError{Row: i + 1, AdmissionID: id.AdmissionID, Err: err})
			continue
		}
		b.Admissions = append(b.Admissions, &in)
	}
	return b, nil
}

// Column names. MIMIC-style aliases map onto them.
const (
	colAdmissionID   = "admission_id"
	colPatientID     = "patient_id"
	colAdmitTime     = "admit_time"
	colDischargeTime = "discharge_time"
	colTimestamp     = "timestamp"
	colTemporalType  = "temporal_type"
	colCategory      = "category"
	colValueKind     = "value_kind"
	colValue         = "value"
	colUnit          = "unit"
)

var columnAliases = map[string]string{
	"hadm_id":    colAdmissionID,
	"subject_id": colPatientID,
	"admittime":  colAdmitTime,
	"dischtime":  colDischargeTime,
	"charttime":  colTimestamp,
	"time":       colTimestamp,
	"type":       colTemporalType,
	"valueuom":   colUnit,
}

var requiredColumns = []string{colAdmissionID, colTimestamp, colTemporalType, colCategory, colValue}

// header maps column names to positions.
type header map[string]int

func parseHeader(row []string) (header, error) {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canon, ok := columnAliases[name]; ok {
			name = canon
		}
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := h[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// collect groups data rows by admission id. rows excludes the header;
// firstRow is the 1-based number of rows[0]. An admission is listed once it
// has a valid row, so one whose rows were all rejected does not appear.
func (r *Reader) collect(h header, rows [][]string, firstRow int) *Batch {
	b := &Batch{}
	byID := make(map[string]*models.AdmissionInput)
	for i, row := range rows {
		rowNum := firstRow + i
		if blank(row) {
			continue
		}
		id := h.get(row, colAdmissionID)
		if id == "" {
			b.Rejected = append(b.Rejected, &RowError{Row: rowNum, Err: fmt.Errorf("missing admission_id")})
			continue
		}
		in, ok := byID[id]
		if !ok {
			in = &models.AdmissionInput{AdmissionID: id}
			byID[id] = in
		}
		if err := r.fillAdmission(in, h, row); err != nil {
			b.Rejected = append(b.Rejected, &RowError{Row: rowNum, AdmissionID: id, Err: err})
			continue
		}
		q, err := r.parseQuadruple(h, row)
		if err != nil {
			b.Rejected = append(b.Rejected, &RowError{Row: rowNum, AdmissionID: id, Err: err})
			continue
		}
		if len(in.Events) == 0 {
			b.Admissions = append(b.Admissions, in)
		}
		in.Events = append(in.Events, q)
	}
	return b
}

// fillAdmission sets admission-level fields from the first row that carries them.
func (r *Reader) fillAdmission(in *models.AdmissionInput, h header, row []string) error {
	if in.PatientID == "" {
		in.PatientID = h.get(row, colPatientID)
	}
	if in.AdmitTime.IsZero() {
		t, err := r.parseTime(h.get(row, colAdmitTime))
		if err != nil {
			return fmt.Errorf("admit_time: %w", err)
		}
		in.AdmitTime = t
	}
	if in.DischargeTime.IsZero() {
		t, err := r.parseTime(h.get(row, colDischargeTime))
		if err != nil {
			return fmt.Errorf("discharge_time: %w", err)
		}
		in.DischargeTime = t
	}
	return nil
}

func (r *Reader) parseQuadruple(h header, row []string) (models.Quadruple, error) {
	var q models.Quadruple
	raw := h.get(row, colTimestamp)
	if raw == "" {
		return q, fmt.Errorf("missing timestamp")
	}
	ts, err := r.parseTime(raw)
	if err != nil {
		return q, fmt.Errorf("timestamp: %w", err)
	}
	tt, err := models.ParseTemporalType(h.get(row, colTemporalType))
	if err != nil {
		return q, err
	}
	cat, err := models.ParseCategory(h.get(row, colCategory))
	if err != nil {
		return q, err
	}
	v, err := parseValue(h.get(row, colValueKind), h.get(row, colValue), h.get(row, colUnit))
	if err != nil {
		return q, err
	}
	return models.Quadruple{Timestamp: ts, TemporalType: tt, Category: cat, Value: v}, nil
}

// parseValue builds a Value. Coded values are written "system:code". With no
// kind given, a value with a unit that parses as a number is numeric; anything
// else is text.
func parseValue(kind, raw, unit string) (models.Value, error) {
	if raw == "" {
		return models.Value{}, fmt.Errorf("missing value")
	}
	if kind == "" && unit != "" {
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return models.Numeric(n, unit), nil
		}
	}
	k, err := models.ParseValueKind(kind)
	if err != nil {
		return models.Value{}, err
	}
	switch k {
	case models.ValueNumeric:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Value{}, fmt.Errorf("numeric value %q: %w", raw, err)
		}
		return models.Numeric(n, unit), nil
	case models.ValueCoded:
		if system, code, ok := strings.Cut(raw, ":"); ok {
			return models.Coded(system, code), nil
		}
		return models.Coded("", raw), nil
	default:
		return models.Text(raw), nil
	}
}

var zonedLayouts = []string{time.RFC3339Nano, time.RFC3339}

var localLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/06 15:04",
}

// parseTime parses a timestamp. Empty input yields the zero time.
func (r *Reader) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
