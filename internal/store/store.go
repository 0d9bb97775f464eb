package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// Attendance actions, as stored and returned to kiosks.
const (
	ActionCheckIn  = "check_in"
	ActionCheckOut = "check_out"
)

// Store manages the PostgreSQL pool, enrolled face templates and attendance events.
type Store struct {
	pool *pgxpool.Pool
}

// Template is one enrolled employee signature.
type Template struct {
	EmployeeID int
	Embedding  []float64
	HasPhoto   bool
	TrainedAt  time.Time
}

// Attendance is the row touched by RecordAttendance.
type Attendance struct {
	ID         int64
	EmployeeID int
	Action     string
	At         time.Time
	Confidence float64
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_templates (
			employee_id INT PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			photo TEXT,
			trained_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS attendances (
			id BIGSERIAL PRIMARY KEY,
			employee_id INT NOT NULL,
			check_in TIMESTAMPTZ NOT NULL,
			check_out TIMESTAMPTZ,
			confidence DOUBLE PRECISION NOT NULL,
			device_info TEXT,
			method TEXT NOT NULL DEFAULT 'biometric'
		);
		CREATE INDEX IF NOT EXISTS attendances_employee_open_idx ON attendances (employee_id) WHERE check_out IS NULL;
		CREATE INDEX IF NOT EXISTS attendances_check_in_idx ON attendances (check_in);
	`, types.SignatureDim)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database pool.
func (s *Store) Close() {
	s.pool.Close()
}

func toVector(vec []float64) pgvector.Vector {
	f := make([]float32, len(vec))
	for i, v := range vec {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}

func fromVector(v pgvector.Vector) []float64 {
	src := v.Slice()
	out := make([]float64, len(src))
	for i, f := range src {
		out[i] = float64(f)
	}
	return out
}

// RegisterTemplate stores the employee's signature, replacing any previous enrollment.
func (s *Store) RegisterTemplate(ctx context.Context, employeeID int, vec []float64, photo string) error {
	if len(vec) != types.SignatureDim {
		return fmt.Errorf("signature must have %d values, got %d", types.SignatureDim, len(vec))
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO face_templates (employee_id, embedding, photo, trained_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW())
		ON CONFLICT (employee_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, photo = EXCLUDED.photo, trained_at = NOW()
	`, employeeID, toVector(vec), photo)
	return err
}

// FindClosestTemplate searches for the nearest enrolled template using cosine distance.
// confidence is the cosine similarity. Returns -1 if no template reaches minConfidence.
func (s *Store) FindClosestTemplate(ctx context.Context, vec []float64, minConfidence float64) (int, float64, error) {
	// <=> is the cosine distance operator in pgvector
	query := `SELECT employee_id, embedding <=> $1 AS distance FROM face_templates ORDER BY distance ASC LIMIT 1`

	var id int
	var distance float64
	err := s.pool.QueryRow(ctx, query, toVector(vec)).Scan(&id, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, 0, nil // No templates enrolled
	}
	if err != nil {
		return 0, 0, err
	}

	confidence := 1 - distance
	if confidence < minConfidence {
		return -1, confidence, nil
	}
	return id, confidence, nil
}

// TemplatePhoto returns the reference photo stored at enrollment, if any.
func (s *Store) TemplatePhoto(ctx context.Context, employeeID int) (string, error) {
	var photo *string
	err := s.pool.QueryRow(ctx, "SELECT photo FROM face_templates WHERE employee_id = $1", employeeID).Scan(&photo)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil || photo == nil {
		return "", err
	}
	return *photo, nil
}

// RecordAttendance closes the employee's open attendance, or opens a new one.
func (s *Store) RecordAttendance(ctx context.Context, employeeID int, confidence float64, deviceInfo string, at time.Time) (Attendance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Attendance{}, err
	}
	defer tx.Rollback(ctx)

	rec := Attendance{EmployeeID: employeeID, At: at, Confidence: confidence}

	// FOR UPDATE serializes two kiosks recognizing the same employee at once
	err = tx.QueryRow(ctx, `
		SELECT id FROM attendances
		WHERE employee_id = $1 AND check_out IS NULL
		ORDER BY check_in DESC LIMIT 1
		FOR UPDATE
	`, employeeID).Scan(&rec.ID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		rec.Action = ActionCheckIn
		err = tx.QueryRow(ctx, `
			INSERT INTO attendances (employee_id, check_in, confidence, device_info)
			VALUES ($1, $2, $3, $4) RETURNING id
		`, employeeID, at, confidence, deviceInfo).Scan(&rec.ID)
	case err == nil:
		rec.Action = ActionCheckOut
		_, err = tx.Exec(ctx, "UPDATE attendances SET check_out = $1 WHERE id = $2", at, rec.ID)
	}
	if err != nil {
		return Attendance{}, err
	}

	return rec, tx.Commit(ctx)
}

// Stats summarizes attendances opened since the given instant.
func (s *Store) Stats(ctx context.Context, since time.Time) (types.KioskStats, error) {
	var st types.KioskStats
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT employee_id), COALESCE(AVG(confidence), 0), MAX(check_in)
		FROM attendances WHERE check_in >= $1
	`, since).Scan(&st.TodayAttendances, &st.UniqueEmployees, &st.AvgConfidence, &last)
	if err != nil {
		return types.KioskStats{}, err
	}
	if last != nil {
		st.LastAttendance = last.Local().Format(time.DateTime)
	}
	return st, nil
}

// ListTemplates returns every enrolled template, newest first.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT employee_id, embedding, photo IS NOT NULL, trained_at
		FROM face_templates ORDER BY trained_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var vec pgvector.Vector
		if err := rows.Scan(&t.EmployeeID, &vec, &t.HasPhoto, &t.TrainedAt); err != nil {
			return nil, err
		}
		t.Embedding = fromVector(vec)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes one employee's enrollment. It reports whether a row existed.
func (s *Store) DeleteTemplate(ctx context.Context, employeeID int) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM face_templates WHERE employee_id = $1", employeeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendances CASCADE;
		DROP TABLE IF EXISTS face_templates CASCADE;
	`)
	return err
}
