package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/uttree/internal/fileid"
	"github.com/hyperjump/uttree/internal/ingest"
	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
)

// BatchReport summarizes a batch run. Per-admission failures never abort the batch.
type BatchReport struct {
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Rejected  int           `json:"rejected_rows"`
	Results   []*Result     `json:"results"`
	Duration  time.Duration `json:"duration_ns"`
}

// Total returns the number of admissions handled.
func (r *BatchReport) Total() int { return r.Processed + r.Skipped + r.Failed }

func (r *BatchReport) add(res *Result) {
	switch res.Status {
	case metrics.StatusProcessed:
		r.Processed++
	case metrics.StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

func (r *BatchReport) merge(o *BatchReport) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Rejected += o.Rejected
	r.Results = append(r.Results, o.Results...)
}

func newReport() *BatchReport {
	return &BatchReport{RunID: uuid.New().String()}
}

// ProcessBatch processes records on a pool of workers. Results are reported
// in input order. A panic while processing an admission is recovered and
// reported as that admission's failure.
func (p *Pipeline) ProcessBatch(ctx context.Context, recs []*models.AdmissionRecord) *BatchReport {
	start := time.Now()
	report := newReport()
	results := make([]*Result, len(recs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = p.processSafely(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		report.add(res)
	}
	report.Duration = time.Since(start)
	p.logger.Info("Batch processed",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report
}

func (p *Pipeline) processSafely(ctx context.Context, rec *models.AdmissionRecord) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing admission %s: %v", rec.ID(), r)
			res, _ = p.finish(&Result{AdmissionID: rec.ID(), EventCount: rec.Len()}, metrics.StatusFailed, err)
		}
	}()
	if err := ctx.Err(); err != nil {
		res, _ = p.finish(&Result{AdmissionID: rec.ID(), EventCount: rec.Len()}, metrics.StatusFailed, err)
		return res
	}
	res, _ = p.ProcessRecord(ctx, rec)
	return res
}

// ProcessInputs validates inputs and processes them as one batch. Inputs that
// fail validation are reported as failed.
func (p *Pipeline) ProcessInputs(ctx context.Context, inputs []*models.AdmissionInput, source string) *BatchReport {
	recs := make([]*models.AdmissionRecord, 0, len(inputs))
	var invalid []*Result
	for _, in := range inputs {
		rec, err := in.Record()
		if err != nil {
			res, _ := p.finish(&Result{AdmissionID: in.AdmissionID}, metrics.StatusFailed, err)
			invalid = append(invalid, res)
			continue
		}
		if source != "" {
			rec = rec.WithSource(source)
		}
		recs = append(recs, rec)
	}
	report := p.ProcessBatch(ctx, recs)
	for _, res := range invalid {
		report.add(res)
	}
	return report
}

// ProcessIngested processes a parsed batch. origin names where it came from
// in logs; source, when set, tags each admission for later file deletion.
// Rejected rows are counted in the report and never stop the batch.
func (p *Pipeline) ProcessIngested(ctx context.Context, batch *ingest.Batch, origin, source string) *BatchReport {
	for _, re := range batch.Rejected {
		p.logger.Warn("Rejected row",
			zap.String("origin", origin),
			zap.Int("row", re.Row),
			zap.String("admission_id", re.AdmissionID),
			zap.String("reason", re.Err.Error()))
	}
	p.metrics.ObserveDropped(len(batch.Rejected))
	report := p.ProcessInputs(ctx, batch.Admissions, source)
	report.Rejected = len(batch.Rejected)
	return report
}

// ProcessFile ingests one file. Unchanged files (same path, modification time,
// and size as when last ingested) are skipped unless force is set. Admissions
// that the file produced before but no longer contains are deleted.
func (p *Pipeline) ProcessFile(ctx context.Context, path string, force bool) (*BatchReport, error) {
	fp, err := fileid.Stat(path)
	if err != nil {
		return nil, err
	}
	if !ingest.Supported(filepath.Ext(fp.Path)) {
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(fp.Path))
	}
	if !force {
		prev, err := p.store.GetSource(ctx, fp.Key)
		if err != nil {
			return nil, err
		}
		if fileid.Unchanged(prev, fp) {
			p.logger.Debug("Skipping unchanged file", zap.String("path", fp.Path))
			return newReport(), nil
		}
	}

	batch, err := p.reader.ReadFile(fp.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fp.Path, err)
	}

	previous, err := p.store.IDsBySource(ctx, fp.Key)
	if err != nil {
		return nil, err
	}
	report := p.ProcessIngested(ctx, batch, fp.Path, fp.Key)

	// Admissions left with no valid events are gone from the file as far as
	// the index is concerned. Failed ones keep their previous entry.
	current := make(map[string]bool, len(report.Results))
	for _, res := range report.Results {
		if res.Status != metrics.StatusSkipped {
			current[res.AdmissionID] = true
		}
	}
	for _, id := range previous {
		if current[id] {
			continue
		}
		if err := p.DeleteAdmission(ctx, id); err != nil && !errors.Is(err, models.ErrAdmissionNotFound) {
			p.logger.Warn("Failed to delete stale admission", zap.String("admission_id", id), zap.Error(err))
		}
	}

	fp.Admissions = report.Processed
	if err := p.store.SaveSource(ctx, fp); err != nil {
		return report, fmt.Errorf("record source %s: %w", fp.Path, err)
	}
	p.logger.Info("File processed",
		zap.String("path", fp.Path),
		zap.String("run_id", report.RunID),
		zap.Int("admissions", report.Total()),
		zap.Int("rejected_rows", report.Rejected))
	return report, nil
}

// ProcessDirectory walks dir recursively and ingests every supported file.
// A file that cannot be read is logged and counted as failed; the walk continues.
func (p *Pipeline) ProcessDirectory(ctx context.Context, dir string, force bool) (*BatchReport, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	report := newReport()
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !ingest.Supported(filepath.Ext(path)) {
			return nil
		}
		r, err := p.ProcessFile(ctx, path, force)
		if err != nil {
			p.logger.Error("Failed to process file", zap.String("path", path), zap.Error(err))
			if r == nil {
				report.Failed++
				return nil
			}
		}
		report.merge(r)
		return nil
	})
	return report, err
}

// DeleteSource removes every admission read from the file at path and forgets the file.
// Returns the number of admissions removed.
func (p *Pipeline) DeleteSource(ctx context.Context, path string) (int, error) {
	key := fileid.SourceKey(path)
	ids, err := p.store.IDsBySource(ctx, key)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := p.DeleteAdmission(ctx, id); err != nil {
			if errors.Is(err, models.ErrAdmissionNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	if err := p.store.DeleteSource(ctx, key); err != nil {
		return n, err
	}
	p.logger.Info("Source removed", zap.String("path", path), zap.Int("admissions", n))
	return n, nil
}
