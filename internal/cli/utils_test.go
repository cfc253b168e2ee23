package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/pipeline"
	"github.com/hyperjump/uttree/internal/storage"
)

func similarityResponse() *models.SimilarityResponse {
	return &models.SimilarityResponse{
		Query:     "100",
		Metric:    "cosine",
		QueryTime: 3,
		Total:     2,
		Results: []*models.Neighbor{
			{AdmissionID: "101", Distance: 0, Rank: 1, PatientID: "p1", RootLabel: "0f3a9c2e1b7d4a6f8e0c5b3d2a1f9e7c", SequenceLength: 6},
			{AdmissionID: "205", Distance: 0.125, Rank: 2},
		},
	}
}

func TestWriteSimilarity_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimilarity(&buf, similarityResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteSimilarity(json): %v", err)
	}
	var decoded models.SimilarityResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "100" || len(decoded.Results) != 2 || decoded.Results[1].AdmissionID != "205" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSimilarity_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSimilarity(&buf, similarityResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"similar to 100", " 1. 101  distance 0.000000", "Patient: p1", "Root label: 0f3a9c2e1b7d  Sequence", " 2. 205  distance 0.125000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	_ = WriteSimilarity(&buf, &models.SimilarityResponse{Query: "100", Metric: "cosine"}, OutputText)
	if !strings.Contains(buf.String(), "No other admissions indexed.") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestWriteConcepts_text(t *testing.T) {
	resp := &models.ConceptResponse{
		Query:          "hepatin",
		SuggestedQuery: "heparin",
		Results:        []*models.ConceptHit{{AdmissionID: "7", Score: 1.5, Rank: 1, Fragments: []string{"<mark>heparin</mark>"}}},
		Total:          1,
	}
	var buf bytes.Buffer
	if err := WriteConcepts(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `Did you mean "heparin"?`) || !strings.Contains(out, "<mark>heparin</mark>") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteTwins(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteTwins(&buf, "1", nil, OutputText)
	if buf.String() != "No structural twins of 1.\n" {
		t.Errorf("got %q", buf.String())
	}
	buf.Reset()
	_ = WriteTwins(&buf, "1", []*models.AdmissionSummary{{AdmissionID: "2", PatientID: "p2"}}, OutputText)
	if !strings.Contains(buf.String(), "2  (patient p2)") {
		t.Errorf("got %q", buf.String())
	}
	buf.Reset()
	_ = WriteTwins(&buf, "1", nil, OutputJSON)
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded["total"] != float64(0) {
		t.Errorf("json = %s (%v)", buf.String(), err)
	}
}

func TestWriteBatchReport_text(t *testing.T) {
	report := &pipeline.BatchReport{
		RunID:     "run-1",
		Processed: 1,
		Skipped:   1,
		Failed:    1,
		Rejected:  2,
		Duration:  1500 * time.Millisecond,
		Results: []*pipeline.Result{
			{AdmissionID: "1", Status: "processed"},
			{AdmissionID: "2", Status: "skipped", Error: "admission 2: admission has no valid events"},
			{AdmissionID: "3", Status: "failed", Error: "embed admission 3: timeout"},
		},
	}
	var buf bytes.Buffer
	if err := WriteBatchReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "Run run-1: 1 processed, 1 skipped, 1 failed, 2 rows rejected in 1.5s") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if strings.Contains(out, " 1: ") || !strings.Contains(out, "3: embed admission 3: timeout") {
		t.Errorf("unexpected failures listing:\n%s", out)
	}
}

func TestWriteStatus(t *testing.T) {
	st := &StatusReport{
		Status:    &pipeline.Status{Admissions: 3, Quadruples: 12, IndexSize: 3, IndexType: "memory", Metric: "cosine", Dimensions: 384, EmbeddingModel: "mock"},
		DiskUsage: storage.DiskUsage{Database: 4096, KeywordIndex: 2048, VectorSnapshot: 0, Total: 6144},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Admissions:      3", "memory, 3 entries, 384 dims, cosine", "6.0 KiB (database 4.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["admissions"] != float64(3) {
		t.Errorf("embedded status fields should be flattened, got %v", decoded)
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "TEXT": OutputText, "json": OutputJSON} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 1536: "1.5 KiB", 5 << 20: "5.0 MiB"}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		maxWords int
		want     string
	}{
		{"empty", "", 3, ""},
		{"few words", "one two", 3, "one two"},
		{"exact", "one two three", 3, "one two three"},
		{"more", "one two three four", 3, "one two three..."},
		{"single long", "word", 1, "word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateWords(tt.s, tt.maxWords)
			if got != tt.want {
				t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
			}
		})
	}
}
