// Package history records finished pipeline runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ajitpratap0/voxelflow/internal/pipeline"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	pipeline     TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	code         INTEGER NOT NULL,
	failed_index INTEGER NOT NULL,
	failed_class TEXT NOT NULL,
	completed    INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL,
	messages     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// Run is a stored run.
type Run struct {
	RunID       string
	Pipeline    string
	Outcome     string
	Code        int
	FailedIndex int
	FailedClass string
	Completed   int
	StartedAt   time.Time
	Duration    time.Duration
	Messages    []filter.Message
}

// Store is a run history database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open history database").WithDetail("path", path)
	}
	// A single connection serializes writers from concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create history schema").WithDetail("path", path)
	}
	return &Store{db: db, logger: log.With(zap.String("component", "history"))}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores res. A result without a run id is given a new one, which is
// returned.
func (s *Store) Record(ctx context.Context, res pipeline.Result) (string, error) {
	runID := res.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	msgs := res.Messages
	if msgs == nil {
		msgs = []filter.Message{}
	}
	encoded, err := json.Marshal(msgs)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode run messages")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, pipeline, outcome, code, failed_index, failed_class,
			completed, started_at, duration_ns, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Pipeline, res.Outcome.String(), res.Code, res.FailedIndex, res.FailedClass,
		res.Completed, res.StartedAt.UnixNano(), int64(res.Duration), string(encoded))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to record run").WithDetail("run_id", runID)
	}
	s.logger.Debug("recorded run",
		zap.String("run_id", runID),
		zap.String("outcome", res.Outcome.String()))
	return runID, nil
}

// List returns up to limit runs, newest first. A limit below 1 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, pipeline, outcome, code, failed_index, failed_class,
		completed, started_at, duration_ns, messages
		FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list runs")
	}
	return runs, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, pipeline, outcome, code, failed_index, failed_class,
		completed, started_at, duration_ns, messages
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Newf(errors.ErrorTypeNotFound, "run %s not found", runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r        Run
		started  int64
		duration int64
		msgs     string
	)
	err := sc.Scan(&r.RunID, &r.Pipeline, &r.Outcome, &r.Code, &r.FailedIndex, &r.FailedClass,
		&r.Completed, &started, &duration, &msgs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to read run")
	}
	r.StartedAt = time.Unix(0, started)
	r.Duration = time.Duration(duration)
	if err := json.Unmarshal([]byte(msgs), &r.Messages); err != nil {
		return Run{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to decode run messages").WithDetail("run_id", r.RunID)
	}
	return r, nil
}
