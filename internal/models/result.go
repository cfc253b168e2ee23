package models

// Neighbor is one ranked similarity hit.
type Neighbor struct {
	AdmissionID    string  `json:"admission_id"`
	Distance       float64 `json:"distance"`
	Rank           int     `json:"rank"`
	PatientID      string  `json:"patient_id,omitempty"`
	RootLabel      string  `json:"root_label,omitempty"`
	SequenceLength int     `json:"sequence_length,omitempty"`
}

// SimilarityResponse is the response for a nearest-neighbor request.
type SimilarityResponse struct {
	// Query is the admission id the neighbors were computed for, empty for raw vectors.
	Query     string      `json:"query,omitempty"`
	Metric    string      `json:"metric"`
	Results   []*Neighbor `json:"results"`
	Total     int         `json:"total"`
	QueryTime int64       `json:"query_time_ms"`
}

// ConceptHit is a keyword match against an admission's event values.
type ConceptHit struct {
	AdmissionID string   `json:"admission_id"`
	PatientID   string   `json:"patient_id,omitempty"`
	RootLabel   string   `json:"root_label,omitempty"`
	Score       float64  `json:"score"`
	Fragments   []string `json:"fragments,omitempty"`
	Rank        int      `json:"rank"`
}

// ConceptResponse is the response for a concept lookup.
type ConceptResponse struct {
	Query   string        `json:"query"`
	Results []*ConceptHit `json:"results"`
	// SuggestedQuery is a spelling correction built from indexed concepts, set
	// when some query term is unknown.
	SuggestedQuery string `json:"suggested_query,omitempty"`
	Total          int    `json:"total"`
	QueryTime      int64  `json:"query_time_ms"`
}
