// Package e2e provides end-to-end tests over a synthetic admission corpus.
package e2e

import (
	"fmt"
	"time"

	"github.com/hyperjump/uttree/internal/models"
)

// TwinCase names an admission and the admission that must come back as its
// nearest neighbor and structural twin.
type TwinCase struct {
	AdmissionID string
	ExpectedID  string
	Description string
}

// ConceptCase defines a concept query and the admissions that must match it.
type ConceptCase struct {
	Query       string
	ExpectedIDs []string
	Description string
}

// Corpus holds admissions and the test cases derived from them.
type Corpus struct {
	Admissions    []*models.AdmissionInput
	TwinCases     []TwinCase
	ConceptCases  []ConceptCase
	TotalEvents   int
	TotalPatterns int
}

// drugs gives every pattern a distinct single-token drug name, so a concept
// query for one drug matches exactly one twin pair.
var drugs = []string{
	"heparin", "warfarin", "metoprolol", "lisinopril", "furosemide",
	"vancomycin", "ceftriaxone", "pantoprazole", "ondansetron", "acetaminophen",
	"morphine", "fentanyl", "propofol", "midazolam", "amiodarone",
	"digoxin", "atorvastatin", "clopidogrel", "enoxaparin", "labetalol",
	"hydralazine", "levetiracetam", "phenytoin", "dexamethasone", "prednisone",
	"albuterol", "ipratropium", "meropenem", "piperacillin", "metronidazole",
}

var labs = []struct {
	name string
	unit string
}{
	{"glucose", "mg/dL"},
	{"creatinine", "mg/dL"},
	{"potassium", "mmol/L"},
	{"hemoglobin", "g/dL"},
	{"lactate", "mmol/L"},
}

// BuildCorpus returns one twin pair per pattern. The second admission of a pair
// repeats the first one's events a week later for a different patient, so both
// canonicalize to the same tree.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	base := time.Date(2024, 1, 8, 7, 30, 0, 0, time.UTC)
	for i, drug := range drugs {
		first := admissionID(i, 'a')
		second := admissionID(i, 'b')
		admit := base.Add(time.Duration(i) * 36 * time.Hour)
		c.Admissions = append(c.Admissions,
			buildAdmission(first, fmt.Sprintf("p%04d", 2*i), admit, i, drug),
			buildAdmission(second, fmt.Sprintf("p%04d", 2*i+1), admit.AddDate(0, 0, 7), i, drug),
		)
		c.TwinCases = append(c.TwinCases,
			TwinCase{AdmissionID: first, ExpectedID: second, Description: fmt.Sprintf("%s twins %s", first, second)},
			TwinCase{AdmissionID: second, ExpectedID: first, Description: fmt.Sprintf("%s twins %s", second, first)},
		)
		c.ConceptCases = append(c.ConceptCases, ConceptCase{
			Query:       drug,
			ExpectedIDs: []string{first, second},
			Description: fmt.Sprintf("concept %q finds pattern %d", drug, i),
		})
	}
	for _, a := range c.Admissions {
		c.TotalEvents += len(a.Events)
	}
	c.TotalPatterns = len(drugs)
	return c
}

func admissionID(pattern int, suffix byte) string {
	return fmt.Sprintf("e2e-%03d%c", pattern+1, suffix)
}

// buildAdmission lays out a three-day stay whose shape varies with pattern:
// the lab, the number of doses, and whether a new finding is recorded.
func buildAdmission(id, patientID string, admit time.Time, pattern int, drug string) *models.AdmissionInput {
	lab := labs[pattern%len(labs)]
	doses := 1 + pattern%3
	events := []models.Quadruple{
		{
			Timestamp:    admit.Add(30 * time.Minute),
			TemporalType: models.Retrospective,
			Category:     models.Diagnosis,
			Value:        models.Coded("ICD10", fmt.Sprintf("I%02d", 10+pattern)),
		},
		{
			Timestamp:    admit.Add(2 * time.Hour),
			TemporalType: models.RealTime,
			Category:     models.Lab,
			Value:        models.Numeric(float64(80+pattern), lab.unit),
		},
	}
	for d := 0; d < doses; d++ {
		events = append(events, models.Quadruple{
			Timestamp:    admit.Add(time.Duration(4+24*d) * time.Hour),
			TemporalType: models.RealTime,
			Category:     models.Drug,
			Value:        models.Text(drug),
		})
	}
	if pattern%2 == 1 {
		events = append(events, models.Quadruple{
			Timestamp:    admit.Add(50 * time.Hour),
			TemporalType: models.NewFinding,
			Category:     models.ExtractedConcept,
			Value:        models.Text(lab.name + "-high"),
		})
	}
	return &models.AdmissionInput{
		AdmissionID:   id,
		PatientID:     patientID,
		AdmitTime:     admit,
		DischargeTime: admit.Add(72 * time.Hour),
		Events:        events,
	}
}

// Inputs returns the admissions in corpus order.
func (c *Corpus) Inputs() []*models.AdmissionInput {
	return append([]*models.AdmissionInput(nil), c.Admissions...)
}
