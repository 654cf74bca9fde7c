package history

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/solvr-ai/solvr/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PGStore persists session records in PostgreSQL. The full record is a
// JSONB column; query, final_answer and created_at are lifted into
// plain columns for indexing and search.
type PGStore struct {
	db *stdsql.DB
}

// NewPGStore opens the database, verifies reachability and applies
// pending embedded migrations.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PGStore{db: db}, nil
}

// runMigrations applies the embedded migration files with golang-migrate.
func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source. m.Close() would also close the shared *sql.DB
	// through the database driver.
	if err := source.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func (s *PGStore) Save(ctx context.Context, record *models.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_records (session_id, query, final_answer, created_at, record)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET query = EXCLUDED.query,
		    final_answer = EXCLUDED.final_answer,
		    created_at = EXCLUDED.created_at,
		    record = EXCLUDED.record`,
		record.SessionID, record.Query, record.FinalAnswer, record.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("save record %s: %w", record.SessionID, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM session_records WHERE session_id = $1`, id).Scan(&data)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return decodeRecord(data)
}

func (s *PGStore) List(ctx context.Context, limit, offset int) ([]*models.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM session_records
		ORDER BY created_at DESC, session_id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PGStore) Search(ctx context.Context, text string) ([]*models.SessionRecord, error) {
	pattern := "%" + text + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM session_records
		WHERE query ILIKE $1
		   OR final_answer ILIKE $1
		   OR EXISTS (
		        SELECT 1 FROM jsonb_array_elements(record->'events') AS ev
		        WHERE ev->>'content' ILIKE $1
		   )
		ORDER BY created_at DESC, session_id DESC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_records WHERE session_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) Close(context.Context) error {
	return s.db.Close()
}

func decodeRecord(data []byte) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func scanRecords(rows *stdsql.Rows) ([]*models.SessionRecord, error) {
	defer func() { _ = rows.Close() }()

	var records []*models.SessionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
