package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
)

// DBInterface is the slice of sqlx the store needs. Satisfied by both
// *sqlx.DB and *sqlx.Tx so tests can run store operations inside a
// transaction.
type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresConfig configures the Postgres-backed checkpoint store. The
// retention knobs mirror the file store's.
type PostgresConfig struct {
	ConnStr   string
	Prefix    string
	Compress  bool
	MaxCount  int
	Retention time.Duration
	MaxBytes  int64
}

// PostgresStore implements checkpoint.Store over a checkpoints table.
// Bodies are stored as JSON bytes, gzip-compressed when configured.
type PostgresStore struct {
	db     DBInterface
	cfg    PostgresConfig
	logger checkpoint.Logger
}

// checkpointRow maps a checkpoints table row.
type checkpointRow struct {
	ID         string    `db:"id"`
	PipelineID string    `db:"pipeline_id"`
	CreatedAt  time.Time `db:"created_at"`
	Compressed bool      `db:"compressed"`
	Size       int64     `db:"size"`
	Body       []byte    `db:"body"`
}

// NewPostgresStore connects and verifies the connection. The caller is
// expected to have run migrations.
func NewPostgresStore(cfg PostgresConfig, logger checkpoint.Logger) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", cfg.ConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	return NewPostgresStoreWithDB(db, cfg, logger), nil
}

// NewPostgresStoreWithDB wraps an existing connection or transaction.
func NewPostgresStoreWithDB(db DBInterface, cfg PostgresConfig, logger checkpoint.Logger) *PostgresStore {
	if cfg.Prefix == "" {
		cfg.Prefix = checkpoint.DefaultPrefix
	}
	return &PostgresStore{db: db, cfg: cfg, logger: logger}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) (string, error) {
	if cp == nil {
		return "", errors.New("nil checkpoint")
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.Version == "" {
		cp.Version = checkpoint.SchemaVersion
	}
	if cp.ID == "" {
		cp.ID = checkpoint.NewID(s.cfg.Prefix, cp.PipelineID, cp.Timestamp)
	}
	if err := cp.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid checkpoint")
	}

	body, err := json.Marshal(cp)
	if err != nil {
		return "", errors.Wrap(err, "encode checkpoint")
	}
	if s.cfg.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return "", errors.Wrap(checkpoint.ErrWriteFailed, err.Error())
		}
		if err := gz.Close(); err != nil {
			return "", errors.Wrap(checkpoint.ErrWriteFailed, err.Error())
		}
		body = buf.Bytes()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, pipeline_id, created_at, compressed, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, compressed = EXCLUDED.compressed`,
		cp.ID, cp.PipelineID, cp.Timestamp.UTC(), s.cfg.Compress, body)
	if err != nil {
		return "", errors.Wrapf(checkpoint.ErrWriteFailed, "insert checkpoint: %v", err)
	}

	// Retention runs opportunistically after every save and never
	// fails the write that succeeded.
	_ = s.Rotate(ctx)

	return cp.ID, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	if id == "" {
		return nil, errors.Wrap(checkpoint.ErrNotFound, "empty id")
	}
	var row checkpointRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, pipeline_id, created_at, compressed, body
		 FROM checkpoints WHERE strpos(id, $1) > 0
		 ORDER BY created_at DESC LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(checkpoint.ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	return decodeRow(&row)
}

func decodeRow(row *checkpointRow) (*checkpoint.Checkpoint, error) {
	body := row.Body
	if row.Compressed {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrapf(checkpoint.ErrCorrupt, "%s: %v", row.ID, err)
		}
		body, err = io.ReadAll(gz)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errors.Wrapf(checkpoint.ErrCorrupt, "%s: %v", row.ID, err)
		}
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, errors.Wrapf(checkpoint.ErrCorrupt, "%s: %v", row.ID, err)
	}
	return &cp, nil
}

func (s *PostgresStore) List(ctx context.Context, pipelineID string) ([]checkpoint.Metadata, error) {
	rows := []checkpointRow{}
	query := `SELECT id, pipeline_id, created_at, compressed, length(body) AS size
		  FROM checkpoints`
	args := []interface{}{}
	if pipelineID != "" {
		query += ` WHERE pipeline_id = $1`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	metas := make([]checkpoint.Metadata, 0, len(rows))
	for _, row := range rows {
		metas = append(metas, checkpoint.Metadata{
			ID:         row.ID,
			PipelineID: row.PipelineID,
			Timestamp:  row.CreatedAt,
			Size:       row.Size,
			Compressed: row.Compressed,
		})
	}
	return metas, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, pipelineID string) (*checkpoint.Checkpoint, error) {
	rows := []checkpointRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, pipeline_id, created_at, compressed, body
		 FROM checkpoints WHERE pipeline_id = $1
		 ORDER BY created_at DESC, id DESC`, pipelineID)
	if err != nil {
		return nil, errors.Wrap(err, "load latest checkpoint")
	}
	for i := range rows {
		cp, derr := decodeRow(&rows[i])
		if derr != nil {
			if s.logger != nil {
				s.logger.Errorf("Skipping unloadable checkpoint %s: %v", rows[i].ID, derr)
			}
			continue
		}
		if cp.Validate() != nil {
			continue
		}
		return cp, nil
	}
	return nil, errors.Wrapf(checkpoint.ErrNotFound, "pipeline %s", pipelineID)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE strpos(id, $1) > 0`, id)
	if err != nil {
		return errors.Wrap(err, "delete checkpoint")
	}
	return nil
}

/// Rotate applies the three retention rules independently: max count,
// retention window, cumulative size budget (oldest first). Failures
// are logged and swallowed.
func (s *PostgresStore) Rotate(ctx context.Context) error {
	metas, err := s.List(ctx, "")
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Rotation skipped: %v", err)
		}
		return nil
	}

	drop := make(map[string]struct{})

	if s.cfg.MaxCount > 0 && len(metas) > s.cfg.MaxCount {
		for _, meta := range metas[s.cfg.MaxCount:] {
			drop[meta.ID] = struct{}{}
		}
	}

	if s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention)
		for _, meta := range metas {
			if meta.Timestamp.Before(cutoff) {
				drop[meta.ID] = struct{}{}
			}
		}
	}

	if s.cfg.MaxBytes > 0 {
		var total int64
		for _, meta := range metas {
			if _, gone := drop[meta.ID]; !gone {
				total += meta.Size
			}
		}
		for i := len(metas) - 1; i >= 0 && total > s.cfg.MaxBytes; i-- {
			meta := metas[i]
			if _, gone := drop[meta.ID]; gone {
				continue
			}
			drop[meta.ID] = struct{}{}
			total -= meta.Size
		}
	}

	for id := range drop {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = $1`, id); err != nil {
			if s.logger != nil {
				s.logger.Errorf("Rotation failed to delete %s: %v", id, err)
			}
			continue
		}
		if s.logger != nil {
			s.logger.Infof("Rotated out checkpoint %s", id)
		}
	}
	return nil
}

func (s *PostgresStore) Validate(ctx context.Context, id string) bool {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return false
	}
	return cp.Validate() == nil
}
