// Package cli formats uttree command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/pipeline"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat parses "text" or "json". Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text or json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteSimilarity writes nearest-neighbor results to w.
func WriteSimilarity(w io.Writer, resp *models.SimilarityResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if resp.Query != "" {
		fmt.Fprintf(w, "\nAdmissions similar to %s (%s distance, %dms)\n\n", resp.Query, resp.Metric, resp.QueryTime)
	} else {
		fmt.Fprintf(w, "\nNearest admissions (%s distance, %dms)\n\n", resp.Metric, resp.QueryTime)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No other admissions indexed.")
		return nil
	}
	for _, n := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%2d. %s  distance %.6f\n", n.Rank, n.AdmissionID, n.Distance)
		if n.PatientID != "" {
			fmt.Fprintf(w, "    Patient: %s\n", n.PatientID)
		}
		if n.RootLabel != "" {
			fmt.Fprintf(w, "    Root label: %s  Sequence length: %d\n", utils.ShortLabel(n.RootLabel), n.SequenceLength)
		}
	}
	fmt.Fprintln(w)
	return nil
}

// WriteConcepts writes concept search results to w.
func WriteConcepts(w io.Writer, resp *models.ConceptResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d admissions for %q in %dms\n", resp.Total, resp.Query, resp.QueryTime)
	if resp.SuggestedQuery != "" {
		fmt.Fprintf(w, "Did you mean %q?\n", resp.SuggestedQuery)
	}
	fmt.Fprintln(w)
	for _, hit := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%2d. %s  score %.4f\n", hit.Rank, hit.AdmissionID, hit.Score)
		for _, f := range hit.Fragments {
			fmt.Fprintf(w, "    %s\n", TruncateWords(f, 20))
		}
	}
	return nil
}

// WriteTwins writes the admissions sharing id's canonical tree.
func WriteTwins(w io.Writer, id string, twins []*models.AdmissionSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"admission_id": id, "twins": twins, "total": len(twins)})
	}
	if len(twins) == 0 {
		fmt.Fprintf(w, "No structural twins of %s.\n", id)
		return nil
	}
	fmt.Fprintf(w, "%d structural twins of %s:\n", len(twins), id)
	for _, t := range twins {
		fmt.Fprintf(w, "  %s", t.AdmissionID)
		if t.PatientID != "" {
			fmt.Fprintf(w, "  (patient %s)", t.PatientID)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteBatchReport writes a build summary, listing failed and skipped admissions.
func WriteBatchReport(w io.Writer, report *pipeline.BatchReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Run %s: %d processed, %d skipped, %d failed", report.RunID, report.Processed, report.Skipped, report.Failed)
	if report.Rejected > 0 {
		fmt.Fprintf(w, ", %d rows rejected", report.Rejected)
	}
	fmt.Fprintf(w, " in %s\n", report.Duration.Round(time.Millisecond))
	for _, res := range report.Results {
		if res.Error == "" {
			continue
		}
		fmt.Fprintf(w, "  %-8s %s: %s\n", res.Status, res.AdmissionID, utils.Truncate(res.Error, 160))
	}
	return nil
}

// StatusReport is what the status command prints.
type StatusReport struct {
	*pipeline.Status
	DiskUsage storage.DiskUsage `json:"disk_usage"`
}

// WriteStatus writes index and storage statistics.
func WriteStatus(w io.Writer, st *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Admissions:      %d\n", st.Admissions)
	fmt.Fprintf(w, "Quadruples:      %d\n", st.Quadruples)
	fmt.Fprintf(w, "Index:           %s, %d entries, %d dims, %s\n", st.IndexType, st.IndexSize, st.Dimensions, st.Metric)
	fmt.Fprintf(w, "Embedding model: %s\n", st.EmbeddingModel)
	fmt.Fprintf(w, "Concept docs:    %d\n", st.ConceptDocs)
	fmt.Fprintf(w, "Disk usage:      %s (database %s, concepts %s, vectors %s)\n",
		FormatBytes(st.DiskUsage.Total),
		FormatBytes(st.DiskUsage.Database),
		FormatBytes(st.DiskUsage.KeywordIndex),
		FormatBytes(st.DiskUsage.VectorSnapshot))
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
