package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/storage"
)

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database file and runs migrations.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	output_dir  TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	endpoints   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at_id ON runs (started_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS endpoints (
	run_id   TEXT NOT NULL,
	host     TEXT NOT NULL,
	port     INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	PRIMARY KEY (run_id, host, port, protocol),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_endpoints_host ON endpoints (host);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405")
	}
	return prefix + hex.EncodeToString(b)
}

// CreateRun records the start of a run. An empty ID is filled in.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = randomID("r_")
	}
	query := `INSERT INTO runs (id, output_dir, started_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.OutputDir, run.StartedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the endpoints of a run and marks it finished, in one transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, endpoints []models.Endpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO endpoints (run_id, host, port, protocol) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare endpoint insert: %w", err)
	}
	defer stmt.Close()
	for _, ep := range endpoints {
		if _, err := stmt.ExecContext(ctx, id, ep.Host, ep.Port, string(ep.Protocol)); err != nil {
			return fmt.Errorf("failed to insert endpoint %s:%d: %w", ep.Host, ep.Port, err)
		}
	}

	query := `UPDATE runs SET finished_at = ?, endpoints = (SELECT COUNT(*) FROM endpoints WHERE run_id = ?) WHERE id = ?`
	res, err := tx.ExecContext(ctx, query, finishedAt.UTC().Format(time.RFC3339Nano), id, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, output_dir, started_at, finished_at, endpoints`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.Run, error) {
	var r models.Run
	var startedAtStr string
	var finishedAtStr sql.NullString
	if err := row.Scan(&r.ID, &r.OutputDir, &startedAtStr, &finishedAtStr, &r.Endpoints); err != nil {
		return r, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
	if finishedAtStr.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtStr.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return r, nil
}

// GetRunByID retrieves a single run by its unique ID.
func (s *SQLiteStore) GetRunByID(ctx context.Context, id string) (*models.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by id: %w", err)
	}
	return &r, nil
}

// LatestRun returns the most recently started run that has finished.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE finished_at IS NOT NULL ORDER BY started_at DESC, id DESC LIMIT 1`
	r, err := scanRun(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &r, nil
}

// ListRuns retrieves a page of runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, params storage.ListRunsParams) ([]models.Run, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + runColumns + " FROM runs WHERE 1=1")
	if !params.BeforeTime.IsZero() && params.BeforeID != "" {
		args = append(args, params.BeforeTime.UTC().Format(time.RFC3339Nano), params.BeforeID)
		qb.WriteString(" AND (started_at, id) < (?, ?)")
	}
	qb.WriteString(" ORDER BY started_at DESC, id DESC LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListEndpoints retrieves the endpoints of a run, ordered by host, port and protocol.
func (s *SQLiteStore) ListEndpoints(ctx context.Context, params storage.ListEndpointsParams) ([]models.Endpoint, error) {
	args := []any{params.RunID}
	qb := strings.Builder{}
	qb.WriteString("SELECT host, port, protocol FROM endpoints WHERE run_id = ?")
	if params.Host != "" {
		args = append(args, strings.ToLower(params.Host))
		qb.WriteString(" AND host = ?")
	}
	if params.Protocol != models.ProtoUnknown {
		args = append(args, string(params.Protocol))
		qb.WriteString(" AND protocol = ?")
	}
	qb.WriteString(" ORDER BY host, port, protocol")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		qb.WriteString(" LIMIT ?")
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()
	var endpoints []models.Endpoint
	for rows.Next() {
		var ep models.Endpoint
		var proto string
		if err := rows.Scan(&ep.Host, &ep.Port, &proto); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint row: %w", err)
		}
		ep.Protocol = models.Protocol(proto)
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}
