package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"club-feedback/internal/feedback"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps each submission as a JSONB document keyed by id.
type PostgresStore struct {
	db  *sql.DB
	url string
}

// OpenPostgres opens a pgx-backed pool for databaseURL and checks connectivity.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres: empty connection string")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{db: db, url: databaseURL}, nil
}

// NewPostgresStore wraps an existing pool. databaseURL is only needed by
// EnsureIndexes and may be empty when migrations are managed elsewhere.
func NewPostgresStore(db *sql.DB, databaseURL string) *PostgresStore {
	return &PostgresStore{db: db, url: databaseURL}
}

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Insert(ctx context.Context, sub feedback.Submission) error {
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO submissions (id, timestamp, doc) VALUES ($1, $2, $3)`,
		sub.ID, sub.Timestamp, string(doc))
	return err
}

func (p *PostgresStore) FindAll(ctx context.Context) ([]feedback.Submission, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM submissions ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]feedback.Submission, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s feedback.Submission
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (p *PostgresStore) DeleteOne(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnsureIndexes applies the embedded schema migrations, which create the
// table, its primary key, and the timestamp index. Migrations run on their
// own connection so closing the migrator leaves the pool untouched.
func (p *PostgresStore) EnsureIndexes(_ context.Context) error {
	_, rest, ok := strings.Cut(p.url, "://")
	if !ok {
		return errors.New("postgres: migrations need a connection URL")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "pgx5://"+rest)
	if err != nil {
		return fmt.Errorf("migrations init: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations up: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close(context.Context) error {
	return p.db.Close()
}
