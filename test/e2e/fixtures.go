package e2e

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/uttree/internal/models"
)

// SupportedFileExtensions is the list of file extensions used in file-based E2E tests.
var SupportedFileExtensions = []string{".csv", ".json", ".xlsx"}

var fileColumns = []string{
	"admission_id", "patient_id", "admit_time", "discharge_time",
	"timestamp", "temporal_type", "category", "value_kind", "value", "unit",
}

// WriteAdmissionFile encodes admissions in the format for ext.
func WriteAdmissionFile(ext string, admissions []*models.AdmissionInput) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(admissions, "", "  ")
	case ".csv":
		return csvBytes(rows(admissions))
	case ".xlsx":
		return xlsxBytes(rows(admissions))
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
}

// rows flattens admissions into one row per event, header first.
func rows(admissions []*models.AdmissionInput) [][]string {
	out := [][]string{fileColumns}
	for _, a := range admissions {
		for _, q := range a.Events {
			kind, value, unit := valueCells(q.Value)
			out = append(out, []string{
				a.AdmissionID,
				a.PatientID,
				formatTime(a.AdmitTime),
				formatTime(a.DischargeTime),
				formatTime(q.Timestamp),
				q.TemporalType.String(),
				q.Category.String(),
				kind,
				value,
				unit,
			})
		}
	}
	return out
}

func valueCells(v models.Value) (kind, value, unit string) {
	if n, u, ok := v.Number(); ok {
		return "numeric", strconv.FormatFloat(n, 'g', -1, 64), u
	}
	return v.Kind().String(), v.String(), ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func csvBytes(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func xlsxBytes(records [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		row := make([]interface{}, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
