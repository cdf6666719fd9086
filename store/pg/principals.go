package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/credgate"
)

func (s *Store) FindByLoginName(ctx context.Context, loginName string) (*credgate.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		select id, login_name, secret_hash, active
		from principals
		where login_name = $1
	`, normalizeLoginName(loginName)))
}

func (s *Store) FindByID(ctx context.Context, id int64) (*credgate.Principal, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.scanPrincipal(s.db.QueryRowContext(ctx, `
		select id, login_name, secret_hash, active
		from principals
		where id = $1
	`, id))
}

func (s *Store) scanPrincipal(row *sql.Row) (*credgate.Principal, error) {
	var p credgate.Principal
	err := row.Scan(&p.ID, &p.LoginName, &p.SecretHash, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credgate.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrincipal inserts an active principal and returns its id.
func (s *Store) CreatePrincipal(ctx context.Context, loginName, secretHash string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into principals (login_name, secret_hash)
		values ($1, $2)
		returning id
	`, normalizeLoginName(loginName), secretHash).Scan(&id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return 0, ErrConflict
		}
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateSecretHash(ctx context.Context, id int64, hash string) error {
	return s.updatePrincipal(ctx, `
		update principals set secret_hash = $2, updated_at = now()
		where id = $1
	`, id, hash)
}

func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.updatePrincipal(ctx, `
		update principals set active = $2, updated_at = now()
		where id = $1
	`, id, active)
}

func (s *Store) updatePrincipal(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return credgate.ErrPrincipalNotFound
	}
	return nil
}
