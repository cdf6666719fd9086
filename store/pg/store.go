// Package pg implements credgate.UserStore and the permission Source/Mutator over
// Postgres through database/sql and the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/credgate"
	"github.com/MrEthical07/credgate/permission"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Schema creates the tables the store reads. Migrate applies it.
const Schema = `
create table if not exists principals (
	id          bigserial primary key,
	login_name  text not null unique,
	secret_hash text not null,
	active      boolean not null default true,
	created_at  timestamptz not null default now(),
	updated_at  timestamptz not null default now()
);
create table if not exists roles (
	id      bigserial primary key,
	code    text not null unique,
	enabled boolean not null default true
);
create table if not exists permissions (
	id            bigserial primary key,
	code          text not null unique,
	resource_type text,
	resource_url  text,
	enabled       boolean not null default true
);
create table if not exists role_permissions (
	role_id       bigint not null references roles(id) on delete cascade,
	permission_id bigint not null references permissions(id) on delete cascade,
	primary key (role_id, permission_id)
);
create table if not exists principal_roles (
	principal_id bigint not null references principals(id) on delete cascade,
	role_id      bigint not null references roles(id) on delete cascade,
	primary key (principal_id, role_id)
);
`

// ErrConflict is returned when a login name is already taken.
var ErrConflict = errors.New("pg: conflict")

type Store struct {
	db *sql.DB
}

var (
	_ credgate.UserStore     = (*Store)(nil)
	_ credgate.SecretUpdater = (*Store)(nil)
	_ credgate.StatusUpdater = (*Store)(nil)
	_ permission.Source      = (*Store)(nil)
	_ permission.Mutator     = (*Store)(nil)
)

// Open connects with the pgx driver and applies pool limits.
func Open(dsn string, maxConns int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func normalizeLoginName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
