// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pipeline workers write concurrently; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS admissions (
		id TEXT PRIMARY KEY,
		patient_id TEXT,
		admit_time TIMESTAMP,
		discharge_time TIMESTAMP,
		source TEXT,
		root_label TEXT NOT NULL,
		sequence TEXT NOT NULL,
		sequence_length INTEGER NOT NULL,
		event_count INTEGER NOT NULL,
		dropped_count INTEGER NOT NULL DEFAULT 0,
		day_count INTEGER NOT NULL,
		embedding_model TEXT,
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_admissions_root_label ON admissions(root_label);
	CREATE INDEX IF NOT EXISTS idx_admissions_patient_id ON admissions(patient_id);
	CREATE INDEX IF NOT EXISTS idx_admissions_source ON admissions(source);

	CREATE TABLE IF NOT EXISTS quadruples (
		admission_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		temporal_type TEXT NOT NULL,
		category TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (admission_id, seq),
		FOREIGN KEY (admission_id) REFERENCES admissions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sources (
		key TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL,
		admissions INTEGER NOT NULL,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

const summaryColumns = `id, patient_id, admit_time, discharge_time, source, root_label, sequence,
	sequence_length, event_count, dropped_count, day_count, embedding_model, created_at, updated_at`

// SaveAdmission inserts or replaces an admission together with its events and
// embedding. Re-saving an admission keeps its created_at and replaces every event.
func (s *SQLiteStorage) SaveAdmission(ctx context.Context, sum *models.AdmissionSummary, events []models.Quadruple, embedding []float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	sum.UpdatedAt = now
	var created time.Time
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM admissions WHERE id = ?`, sum.AdmissionID).Scan(&created)
	switch {
	case err == sql.ErrNoRows:
		sum.CreatedAt = now
	case err != nil:
		return err
	default:
		sum.CreatedAt = created
	}

	var blob []byte
	if embedding != nil {
		blob = utils.Float32sToBytes(embedding)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO admissions (id, patient_id, admit_time, discharge_time, source, root_label, sequence,
			sequence_length, event_count, dropped_count, day_count, embedding_model, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			patient_id = excluded.patient_id,
			admit_time = excluded.admit_time,
			discharge_time = excluded.discharge_time,
			source = excluded.source,
			root_label = excluded.root_label,
			sequence = excluded.sequence,
			sequence_length = excluded.sequence_length,
			event_count = excluded.event_count,
			dropped_count = excluded.dropped_count,
			day_count = excluded.day_count,
			embedding_model = excluded.embedding_model,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		sum.AdmissionID, sum.PatientID, nullTime(sum.AdmitTime), nullTime(sum.DischargeTime), sum.Source,
		sum.RootLabel, sum.Sequence, sum.SequenceLength, sum.EventCount, sum.DroppedCount, sum.DayCount,
		sum.EmbeddingModel, blob, sum.CreatedAt, sum.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save admission %s: %w", sum.AdmissionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM quadruples WHERE admission_id = ?`, sum.AdmissionID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quadruples (admission_id, seq, timestamp, temporal_type, category, value)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, q := range events {
		value, err := json.Marshal(q.Value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sum.AdmissionID, i, q.Timestamp.Format(time.RFC3339Nano),
			q.TemporalType.String(), q.Category.String(), string(value)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSummary returns an admission's metadata row.
func (s *SQLiteStorage) GetSummary(ctx context.Context, id string) (*models.AdmissionSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM admissions WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrAdmissionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// GetSummaries returns the metadata rows for ids, keyed by id. Unknown ids are absent.
func (s *SQLiteStorage) GetSummaries(ctx context.Context, ids []string) (map[string]*models.AdmissionSummary, error) {
	out := make(map[string]*models.AdmissionSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM admissions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out[sum.AdmissionID] = sum
	}
	return out, rows.Err()
}

// GetAdmission returns an admission's metadata row and its events in canonical order.
func (s *SQLiteStorage) GetAdmission(ctx context.Context, id string) (*models.AdmissionDetail, error) {
	sum, err := s.GetSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, temporal_type, category, value
		 FROM quadruples WHERE admission_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detail := &models.AdmissionDetail{AdmissionSummary: sum}
	for rows.Next() {
		var ts, tt, cat, value string
		if err := rows.Scan(&ts, &tt, &cat, &value); err != nil {
			return nil, err
		}
		var q models.Quadruple
		if q.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		if q.TemporalType, err = models.ParseTemporalType(tt); err != nil {
			return nil, err
		}
		if q.Category, err = models.ParseCategory(cat); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(value), &q.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value: %w", err)
		}
		detail.Events = append(detail.Events, q)
	}
	return detail, rows.Err()
}

// GetEmbedding returns the stored embedding for an admission.
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM admissions WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrAdmissionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("admission %s has no stored embedding", id)
	}
	return utils.BytesToFloat32s(blob), nil
}

// ListAdmissions returns admissions with offset and limit, most recently updated first.
func (s *SQLiteStorage) ListAdmissions(ctx context.Context, offset, limit int) ([]*models.AdmissionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM admissions ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// FindByRootLabel returns every admission whose canonical tree has the given root label, ordered by id.
func (s *SQLiteStorage) FindByRootLabel(ctx context.Context, rootLabel string) ([]*models.AdmissionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM admissions WHERE root_label = ? ORDER BY id`, rootLabel)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// IDsBySource returns the ids of admissions read from source.
func (s *SQLiteStorage) IDsBySource(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM admissions WHERE source = ? ORDER BY id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ForEachEmbedding calls fn for every admission with a stored embedding, in id order.
// Iteration stops at the first error fn returns.
func (s *SQLiteStorage) ForEachEmbedding(ctx context.Context, fn func(id string, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM admissions WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return err
	}
	type entry struct {
		id  string
		vec []float32
	}
	// Drain before calling fn: the single connection is held while rows are open.
	var entries []entry
	for rows.Next() {
		var e entry
		var blob []byte
		if err := rows.Scan(&e.id, &blob); err != nil {
			rows.Close()
			return err
		}
		e.vec = utils.BytesToFloat32s(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, e := range entries {
		if err := fn(e.id, e.vec); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAdmission removes an admission and its events. Deleting an unknown id is a no-op.
func (s *SQLiteStorage) DeleteAdmission(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM quadruples WHERE admission_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM admissions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSource records that a file was ingested.
func (s *SQLiteStorage) SaveSource(ctx context.Context, src *models.SourceFile) error {
	src.ProcessedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sources (key, path, mod_time, size, admissions, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		src.Key, src.Path, src.ModTime, src.Size, src.Admissions, src.ProcessedAt,
	)
	return err
}

// GetSource returns the recorded fingerprint for key, or nil when the file was never ingested.
func (s *SQLiteStorage) GetSource(ctx context.Context, key string) (*models.SourceFile, error) {
	var src models.SourceFile
	err := s.db.QueryRowContext(ctx,
		`SELECT key, path, mod_time, size, admissions, processed_at FROM sources WHERE key = ?`, key,
	).Scan(&src.Key, &src.Path, &src.ModTime, &src.Size, &src.Admissions, &src.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// DeleteSource forgets a file. Its admissions are not touched.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE key = ?`, key)
	return err
}

// CountAdmissions returns the total number of admissions.
func (s *SQLiteStorage) CountAdmissions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admissions`).Scan(&count)
	return count, err
}

// CountQuadruples returns the total number of stored events.
func (s *SQLiteStorage) CountQuadruples(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quadruples`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*models.AdmissionSummary, error) {
	var sum models.AdmissionSummary
	var patient, source, model sql.NullString
	var admit, discharge sql.NullTime
	err := row.Scan(&sum.AdmissionID, &patient, &admit, &discharge, &source, &sum.RootLabel, &sum.Sequence,
		&sum.SequenceLength, &sum.EventCount, &sum.DroppedCount, &sum.DayCount, &model, &sum.CreatedAt, &sum.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sum.PatientID = patient.String
	sum.Source = source.String
	sum.EmbeddingModel = model.String
	if admit.Valid {
		sum.AdmitTime = admit.Time
	}
	if discharge.Valid {
		sum.DischargeTime = discharge.Time
	}
	return &sum, nil
}

func collectSummaries(rows *sql.Rows) ([]*models.AdmissionSummary, error) {
	defer rows.Close()
	var out []*models.AdmissionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
