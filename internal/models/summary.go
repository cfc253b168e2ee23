package models

import "time"

// AdmissionSummary is the persisted metadata row for a processed admission.
// The vector itself lives in the similarity index; the summary records which
// embedding model produced it.
type AdmissionSummary struct {
	AdmissionID    string    `json:"admission_id" db:"id"`
	PatientID      string    `json:"patient_id" db:"patient_id"`
	AdmitTime      time.Time `json:"admit_time" db:"admit_time"`
	DischargeTime  time.Time `json:"discharge_time,omitempty" db:"discharge_time"`
	Source         string    `json:"source,omitempty" db:"source"`
	RootLabel      string    `json:"root_label" db:"root_label"`
	Sequence       string    `json:"sequence,omitempty" db:"sequence"`
	SequenceLength int       `json:"sequence_length" db:"sequence_length"`
	EventCount     int       `json:"event_count" db:"event_count"`
	DroppedCount   int       `json:"dropped_count" db:"dropped_count"`
	DayCount       int       `json:"day_count" db:"day_count"`
	EmbeddingModel string    `json:"embedding_model" db:"embedding_model"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AdmissionDetail is an admission's summary together with its stored events.
type AdmissionDetail struct {
	*AdmissionSummary
	Events []Quadruple `json:"events"`
}

// SourceFile records an ingested file so unchanged files can be skipped.
type SourceFile struct {
	Key  string `json:"key" db:"key"`
	Path string `json:"path" db:"path"`
	// ModTime is the file's modification time in Unix nanoseconds.
	ModTime     int64     `json:"mod_time" db:"mod_time"`
	Size        int64     `json:"size" db:"size"`
	Admissions  int       `json:"admissions" db:"admissions"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
