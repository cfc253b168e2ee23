package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AdmissionRecord is the validated, ordered event set of one hospital admission.
// It is immutable after construction.
type AdmissionRecord struct {
	id        string
	patientID string
	admit     time.Time
	discharge time.Time
	source    string
	events    []Quadruple
	dropped   []*MalformedQuadrupleError
}

// NewAdmissionRecord validates events against the admission window and sorts
// the survivors by timestamp, category, then value. Rejected events are kept as
// MalformedQuadrupleError values (see Dropped) and never fail construction.
// A zero discharge time means the stay is still open.
func NewAdmissionRecord(id, patientID string, admit, discharge time.Time, events []Quadruple) (*AdmissionRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("admission id is required")
	}
	if !admit.IsZero() && !discharge.IsZero() && discharge.Before(admit) {
		return nil, fmt.Errorf("admission %s: discharge %s before admit %s", id,
			discharge.Format(time.RFC3339), admit.Format(time.RFC3339))
	}
	rec := &AdmissionRecord{
		id:        id,
		patientID: strings.TrimSpace(patientID),
		admit:     admit,
		discharge: discharge,
		events:    make([]Quadruple, 0, len(events)),
	}
	for i, q := range events {
		if err := q.Validate(); err != nil {
			rec.dropped = append(rec.dropped, &MalformedQuadrupleError{AdmissionID: id, Index: i, Reason: err.Error()})
			continue
		}
		if !rec.inWindow(q.Timestamp) {
			rec.dropped = append(rec.dropped, &MalformedQuadrupleError{
				AdmissionID: id,
				Index:       i,
				Reason:      fmt.Sprintf("timestamp %s outside admission window", q.Timestamp.Format(time.RFC3339)),
			})
			continue
		}
		rec.events = append(rec.events, q)
	}
	sort.SliceStable(rec.events, func(i, j int) bool { return rec.events[i].Less(rec.events[j]) })
	return rec, nil
}

func (r *AdmissionRecord) inWindow(ts time.Time) bool {
	if !r.admit.IsZero() && ts.Before(r.admit) {
		return false
	}
	if !r.discharge.IsZero() && ts.After(r.discharge) {
		return false
	}
	return true
}

// WithSource returns a copy of r tagged with the file or endpoint it was read from.
func (r *AdmissionRecord) WithSource(source string) *AdmissionRecord {
	cp := *r
	cp.source = source
	return &cp
}

func (r *AdmissionRecord) ID() string { return r.id }
func (r *AdmissionRecord) PatientID() string { return r.patientID }
func (r *AdmissionRecord) AdmitTime() time.Time { return r.admit }
func (r *AdmissionRecord) DischargeTime() time.Time { return r.discharge }
func (r *AdmissionRecord) Source() string { return r.source }

// Len returns the number of valid events.
func (r *AdmissionRecord) Len() int { return len(r.events) }

// Events returns a copy of the sorted valid events.
func (r *AdmissionRecord) Events() []Quadruple {
	return append([]Quadruple(nil), r.events...)
}

// Event returns the i-th sorted event.
func (r *AdmissionRecord) Event(i int) Quadruple { return r.events[i] }

// Dropped returns the events rejected at construction.
func (r *AdmissionRecord) Dropped() []*MalformedQuadrupleError {
	return append([]*MalformedQuadrupleError(nil), r.dropped...)
}

// Location is the time zone calendar days are computed in: the admit time's
// location, or the first event's when the admit time is unknown.
func (r *AdmissionRecord) Location() *time.Location {
	if !r.admit.IsZero() {
		return r.admit.Location()
	}
	if len(r.events) > 0 {
		return r.events[0].Timestamp.Location()
	}
	return time.UTC
}

// DayZero is the calendar day that day offsets are measured from: the day of
// the first valid event, in the admission's location.
func (r *AdmissionRecord) DayZero() time.Time {
	if len(r.events) == 0 {
		return time.Time{}
	}
	loc := r.Location()
	y, m, d := r.events[0].Timestamp.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AdmissionInput is the wire form of an admission (HTTP body, JSON files).
type AdmissionInput struct {
	AdmissionID   string      `json:"admission_id"`
	PatientID     string      `json:"patient_id"`
	AdmitTime     time.Time   `json:"admit_time"`
	DischargeTime time.Time   `json:"discharge_time,omitempty"`
	Events        []Quadruple `json:"events"`

	// Rejected holds events that could not be decoded. Their Index is the
	// position in the original events array.
	Rejected []*MalformedQuadrupleError `json:"-"`
	// positions maps Events back to the original array when some were rejected.
	positions []int
}

// UnmarshalJSON decodes events one at a time. An event that fails to decode
// (unknown temporal type, bad value, ...) is moved to Rejected and the rest
// of the admission is kept.
func (in *AdmissionInput) UnmarshalJSON(b []byte) error {
	var w struct {
		AdmissionID   string            `json:"admission_id"`
		PatientID     string            `json:"patient_id"`
		AdmitTime     time.Time         `json:"admit_time"`
		DischargeTime time.Time         `json:"discharge_time"`
		Events        []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := AdmissionInput{
		AdmissionID:   w.AdmissionID,
		PatientID:     w.PatientID,
		AdmitTime:     w.AdmitTime,
		DischargeTime: w.DischargeTime,
	}
	id := strings.TrimSpace(w.AdmissionID)
	for i, raw := range w.Events {
		var q Quadruple
		if err := json.Unmarshal(raw, &q); err != nil {
			out.Rejected = append(out.Rejected, &MalformedQuadrupleError{AdmissionID: id, Index: i, Reason: err.Error()})
			continue
		}
		out.Events = append(out.Events, q)
		out.positions = append(out.positions, i)
	}
	if len(out.Rejected) == 0 {
		out.positions = nil
	}
	*in = out
	return nil
}

// Record validates the input into an AdmissionRecord. Events rejected while
// decoding are reported by Dropped alongside those rejected here.
func (in *AdmissionInput) Record() (*AdmissionRecord, error) {
	rec, err := NewAdmissionRecord(in.AdmissionID, in.PatientID, in.AdmitTime, in.DischargeTime, in.Events)
	if err != nil || len(in.Rejected) == 0 {
		return rec, err
	}
	if len(in.positions) == len(in.Events) {
		for _, d := range rec.dropped {
			d.Index = in.positions[d.Index]
		}
	}
	for _, r := range in.Rejected {
		cp := *r
		cp.AdmissionID = rec.id
		rec.dropped = append(rec.dropped, &cp)
	}
	sort.SliceStable(rec.dropped, func(i, j int) bool { return rec.dropped[i].Index < rec.dropped[j].Index })
	return rec, nil
}
