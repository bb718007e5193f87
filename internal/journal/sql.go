package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/koustreak/objgate/internal/database"
	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/logger"
)

const table = "multipart_uploads"

var ddl = map[database.Driver]string{
	database.DriverPostgres: `CREATE TABLE IF NOT EXISTS ` + table + ` (
	id          TEXT PRIMARY KEY,
	upload_id   TEXT NOT NULL,
	bucket      TEXT NOT NULL,
	object_key  TEXT NOT NULL,
	parts       INTEGER NOT NULL,
	size_bytes  BIGINT NOT NULL,
	outcome     TEXT NOT NULL,
	error_text  TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`,
	database.DriverMySQL: `CREATE TABLE IF NOT EXISTS ` + table + ` (
	id          CHAR(36) PRIMARY KEY,
	upload_id   VARCHAR(1024) NOT NULL,
	bucket      VARCHAR(255) NOT NULL,
	object_key  VARCHAR(1024) NOT NULL,
	parts       INT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	outcome     VARCHAR(32) NOT NULL,
	error_text  TEXT NOT NULL,
	started_at  DATETIME(6) NOT NULL,
	finished_at DATETIME(6) NOT NULL,
	INDEX idx_finished_at (finished_at)
)`,
}

// Postgres gets its index separately; MySQL declares it inline.
const pgIndex = `CREATE INDEX IF NOT EXISTS idx_` + table + `_finished_at ON ` + table + ` (finished_at)`

const columns = "id, upload_id, bucket, object_key, parts, size_bytes, outcome, error_text, started_at, finished_at"

// SQL is a Journal on a database.DB.
type SQL struct {
	db  database.DB
	log *logger.Logger
}

// NewSQL returns a journal writing to db. Call Migrate once before use.
func NewSQL(db database.DB, log *logger.Logger) *SQL {
	if log == nil {
		log = logger.Nop()
	}
	return &SQL{db: db, log: log}
}

// Migrate creates the journal table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	stmt, ok := ddl[s.db.Driver()]
	if !ok {
		return errs.Invalidf("journal: unsupported database driver %q", s.db.Driver())
	}
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return err
	}
	if s.db.Driver() == database.DriverPostgres {
		if _, err := s.db.Exec(ctx, pgIndex); err != nil {
			return err
		}
	}
	s.log.Debug("journal table ready")
	return nil
}

func (s *SQL) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	marks := make([]string, 10)
	for i := range marks {
		marks[i] = s.db.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, strings.Join(marks, ", "))

	_, err := s.db.Exec(ctx, stmt,
		e.ID, e.UploadID, e.Bucket, e.Key, e.Parts, e.Size,
		string(e.Outcome), e.Error, e.StartedAt.UTC(), e.FinishedAt.UTC(),
	)
	return err
}

func (s *SQL) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY finished_at DESC LIMIT %s", columns, table, s.db.Placeholder(1))

	rows, err := s.db.Query(ctx, stmt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.UploadID, &e.Bucket, &e.Key, &e.Parts, &e.Size,
			&outcome, &e.Error, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
