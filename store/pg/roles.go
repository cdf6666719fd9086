package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrEthical07/credgate/permission"
)

// RolesForPrincipal loads every role assigned to principalID with its permissions.
// Disabled rows are returned as-is; permission.Resolve filters them.
func (s *Store) RolesForPrincipal(ctx context.Context, principalID int64) ([]permission.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.code, r.enabled,
		       p.id, p.code, p.resource_type, p.resource_url, p.enabled
		from principal_roles pr
		join roles r on r.id = pr.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where pr.principal_id = $1
		order by r.id, p.id
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []permission.Role
	for rows.Next() {
		var (
			role    permission.Role
			permID  sql.NullInt64
			code    sql.NullString
			resType sql.NullString
			resURL  sql.NullString
			enabled sql.NullBool
		)
		if err := rows.Scan(&role.ID, &role.Code, &role.Enabled, &permID, &code, &resType, &resURL, &enabled); err != nil {
			return nil, err
		}
		if n := len(roles); n == 0 || roles[n-1].ID != role.ID {
			roles = append(roles, role)
		}
		if !permID.Valid {
			continue
		}
		last := &roles[len(roles)-1]
		last.Permissions = append(last.Permissions, permission.Permission{
			ID:       permID.Int64,
			Code:     code.String,
			Resource: permission.Resource{Type: resType.String, URL: resURL.String},
			Enabled:  enabled.Bool,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignRoles replaces the principal's role set.
func (s *Store) AssignRoles(ctx context.Context, principalID int64, roleIDs []int64) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from principal_roles where principal_id = $1`, principalID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into principal_roles (principal_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, principalID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: role %d", permission.ErrNotFound, roleID)
			}
			return err
		}
	}
	return tx.Commit()
}

// SetRolePermissions replaces the role's grants and returns its holders.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) ([]int64, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, permission.ErrNotFound
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return nil, err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return nil, fmt.Errorf("%w: permission %d", permission.ErrNotFound, permID)
			}
			return nil, err
		}
	}
	holders, err := roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return holders, nil
}

// SetRoleEnabled toggles a role and returns its holders.
func (s *Store) SetRoleEnabled(ctx context.Context, roleID int64, enabled bool) ([]int64, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update roles set enabled = $2 where id = $1`, roleID, enabled)
	if err != nil {
		return nil, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if aff == 0 {
		return nil, permission.ErrNotFound
	}
	holders, err := roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return holders, nil
}

func (s *Store) SetPermissionEnabled(ctx context.Context, permissionID int64, enabled bool) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `update permissions set enabled = $2 where id = $1`, permissionID, enabled)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return permission.ErrNotFound
	}
	return nil
}

func roleHolders(ctx context.Context, tx *sql.Tx, roleID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		select principal_id from principal_roles
		where role_id = $1
		order by principal_id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
