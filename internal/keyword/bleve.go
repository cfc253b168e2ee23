// Package keyword provides Bleve implementation of ConceptIndex.
package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/uttree/internal/models"
)

const (
	fieldConcepts = "concepts"
	fieldPatient  = "patient_id"
	fieldRoot     = "root_label"
)

// categoryField maps each category to the field holding its event values.
var categoryField = map[models.Category]string{
	models.Diagnosis:        "diagnosis",
	models.Drug:             "drug",
	models.Lab:              "lab",
	models.Procedure:        "procedure",
	models.ExtractedConcept: "extracted",
}

// BleveIndex implements ConceptIndex using Bleve. One document per admission.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so drug and lab
	// names match exactly; "glucose-high" indexes as "glucose" and "high".
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldConcepts, textFieldMapping)
	for _, field := range categoryField {
		docMapping.AddFieldMappingsAt(field, textFieldMapping)
	}

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldPatient, keywordFieldMapping)
	docMapping.AddFieldMappingsAt(fieldRoot, keywordFieldMapping)

	im.AddDocumentMapping("admission", docMapping)
	im.DefaultType = "admission"
	im.DefaultMapping = docMapping
	return im
}

// conceptDocument builds the indexed form of an admission: every event value
// in one field, and again per category.
func conceptDocument(rec *models.AdmissionRecord, rootLabel string) map[string]interface{} {
	perCategory := make(map[string][]string)
	all := make([]string, 0, rec.Len())
	for _, q := range rec.Events() {
		v := q.Value.String()
		all = append(all, v)
		if field, ok := categoryField[q.Category]; ok {
			perCategory[field] = append(perCategory[field], v)
		}
	}
	doc := map[string]interface{}{
		fieldConcepts: strings.Join(all, "\n"),
		fieldPatient:  rec.PatientID(),
		fieldRoot:     rootLabel,
	}
	for field, values := range perCategory {
		doc[field] = strings.Join(values, "\n")
	}
	return doc
}

// IndexAdmission indexes (or re-indexes) an admission's event values.
func (b *BleveIndex) IndexAdmission(ctx context.Context, rec *models.AdmissionRecord, rootLabel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Index(rec.ID(), conceptDocument(rec, rootLabel))
}

// Search runs a match (or fuzzy) query and returns up to limit admissions.
// For multi-term queries the score is scaled by the squared fraction of terms
// the admission matches, so admissions carrying every concept rank first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*ConceptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	field := fieldConcepts
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if f, ok := categoryField[opts.Category]; ok {
			field = f
		}
		fuzzy = opts.Fuzzy
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	req := bleve.NewSearchRequest(b.buildQuery(query, terms, field, fuzzy, fuzziness))
	req.Size = reqSize
	req.Fields = []string{fieldPatient}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField(field)
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(terms, field, reqSize, fuzzy, fuzziness)
	}

	out := make([]*ConceptResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		score := hit.Score
		if len(terms) > 1 {
			matched := coverage[hit.ID]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		r := &ConceptResult{ID: hit.ID, Score: score, Fragments: hit.Fragments[field]}
		if p, ok := hit.Fields[fieldPatient].(string); ok {
			r.PatientID = p
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func (b *BleveIndex) buildQuery(query string, terms []string, field string, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		queries = append(queries, termQuery(term, field, true, fuzziness))
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func termQuery(term, field string, fuzzy bool, fuzziness int) blevequery.Query {
	if fuzzy {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		return fq
	}
	mq := bleve.NewMatchQuery(term)
	mq.SetField(field)
	return mq
}

// termCoverage counts how many query terms each admission matches.
func (b *BleveIndex) termCoverage(terms []string, field string, reqSize int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		req := bleve.NewSearchRequest(termQuery(term, field, fuzzy, fuzziness))
		req.Size = reqSize
		results, err := b.index.Search(req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// Suggest corrects unknown query terms to the most frequent indexed concept term
// within edit distance 2.
func (b *BleveIndex) Suggest(ctx context.Context, query string) (string, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return "", nil
	}
	dict, err := b.conceptTerms(ctx)
	if err != nil {
		return "", err
	}
	return suggestQuery(terms, dict, 2), nil
}

// conceptTerms reads the concepts field dictionary: term to document frequency.
func (b *BleveIndex) conceptTerms(ctx context.Context) (map[string]uint64, error) {
	fd, err := b.index.FieldDict(fieldConcepts)
	if err != nil {
		return nil, fmt.Errorf("failed to read term dictionary: %w", err)
	}
	defer fd.Close()
	terms := make(map[string]uint64)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := fd.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		terms[entry.Term] = entry.Count
	}
	return terms, nil
}

// Delete removes an admission from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the number of indexed admissions.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
