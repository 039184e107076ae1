package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Store = (*PGStore)(nil)

// querier is satisfied by *sql.DB and *sql.Tx so the same row code serves
// both the plain store and the transactional view used by WithinTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
	q  querier
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{q: s.q} }
func (s *PGStore) Organisations(context.Context) OrganisationStore {
	return &orgStore{q: s.q}
}
func (s *PGStore) RoleAssignments(context.Context) RoleAssignmentStore {
	return &roleAssignmentStore{q: s.q}
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		// Already inside a transaction; reuse it.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&PGStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

// User store ---------------------------------------------------------------

type userStore struct{ q querier }

const userColumns = `id, email, username, phone_number, password_hash, is_active,
	is_root_user, is_password_temporary, email_confirmed, organisation_id,
	failed_access_count, lockout_end, last_logged_on, added_by, modified_by,
	date_added, date_modified`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u          User
		phone      sql.NullString
		modifiedBy sql.NullString
		addedBy    sql.NullString
		lockout    sql.NullTime
		lastLogin  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &phone, &u.PasswordHash, &u.IsActive,
		&u.IsRootUser, &u.IsPasswordTemporary, &u.EmailConfirmed, &u.OrganisationID,
		&u.FailedAccessCount, &lockout, &lastLogin, &addedBy, &modifiedBy,
		&u.DateAdded, &u.DateModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PhoneNumber = phone.String
	u.AddedBy = addedBy.String
	u.ModifiedBy = modifiedBy.String
	if lockout.Valid {
		t := lockout.Time
		u.LockoutEnd = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoggedOn = &t
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, email, username, phone_number, password_hash, is_active,
			is_root_user, is_password_temporary, email_confirmed, organisation_id,
			failed_access_count, added_by, date_added, date_modified)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		u.ID, u.Email, u.Username, nullable(u.PhoneNumber), u.PasswordHash, u.IsActive,
		u.IsRootUser, u.IsPasswordTemporary, u.EmailConfirmed, u.OrganisationID,
		u.FailedAccessCount, nullable(u.AddedBy), u.DateAdded, u.DateModified,
	)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindActive(ctx context.Context, id string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and is_active`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) FindActiveByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1 and is_active`, username))
}

func (s *userStore) ListActive(ctx context.Context) ([]*User, error) {
	return s.list(ctx, `select `+userColumns+` from users where is_active order by date_added`)
}

func (s *userStore) ListByOrganisation(ctx context.Context, orgID string) ([]*User, error) {
	return s.list(ctx,
		`select `+userColumns+` from users where organisation_id=$1 order by date_added`, orgID)
}

func (s *userStore) list(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) Update(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx, `
		update users set email=$2, username=$3, phone_number=$4, is_active=$5,
			modified_by=$6, date_modified=$7
		where id=$1`,
		u.ID, u.Email, u.Username, nullable(u.PhoneNumber), u.IsActive,
		nullable(u.ModifiedBy), u.DateModified,
	)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *userStore) UpdateMany(ctx context.Context, users []*User) error {
	if len(users) == 0 {
		return nil
	}
	run := func(q querier) error {
		for _, u := range users {
			_, err := q.ExecContext(ctx, `
				update users set is_active=$2, modified_by=$3, date_modified=$4
				where id=$1`,
				u.ID, u.IsActive, nullable(u.ModifiedBy), u.DateModified,
			)
			if err != nil {
				return err
			}
		}
		return nil
	}
	// A single commit for the whole batch; mid-batch failures roll back.
	if db, ok := s.q.(*sql.DB); ok {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := run(tx); err != nil {
			return err
		}
		return tx.Commit()
	}
	return run(s.q)
}

func (s *userStore) UpdateLockout(ctx context.Context, id string, failedCount int, lockoutEnd *time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`update users set failed_access_count=$2, lockout_end=$3 where id=$1`,
		id, failedCount, lockoutEnd,
	)
	return err
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string, temporary bool) error {
	_, err := s.q.ExecContext(ctx,
		`update users set password_hash=$2, is_password_temporary=$3, date_modified=now() where id=$1`,
		id, passwordHash, temporary,
	)
	return err
}

func (s *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`update users set last_logged_on=$2 where id=$1`, id, at)
	return err
}

// Organisation store --------------------------------------------------------

type orgStore struct{ q querier }

const orgColumns = `id, name, region, data, is_deleted, created_by, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*Organisation, error) {
	var (
		org       Organisation
		region    sql.NullString
		data      sql.NullString
		createdBy sql.NullString
	)
	err := row.Scan(&org.ID, &org.Name, &region, &data, &org.IsDeleted,
		&createdBy, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	org.Region = region.String
	org.Data = data.String
	org.CreatedBy = createdBy.String
	return &org, nil
}

func (s *orgStore) Create(ctx context.Context, org *Organisation) error {
	_, err := s.q.ExecContext(ctx, `
		insert into organisations (id, name, region, data, is_deleted, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		org.ID, org.Name, nullable(org.Region), nullable(org.Data), org.IsDeleted,
		nullable(org.CreatedBy), org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *orgStore) Find(ctx context.Context, id string) (*Organisation, error) {
	return scanOrg(s.q.QueryRowContext(ctx,
		`select `+orgColumns+` from organisations where id=$1`, id))
}

func (s *orgStore) FindByName(ctx context.Context, name string) (*Organisation, error) {
	return scanOrg(s.q.QueryRowContext(ctx,
		`select `+orgColumns+` from organisations where name=$1`, name))
}

func (s *orgStore) Upsert(ctx context.Context, org *Organisation) error {
	_, err := s.q.ExecContext(ctx, `
		insert into organisations (id, name, region, data, is_deleted, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (id) do update set
			name=excluded.name, region=excluded.region, data=excluded.data,
			updated_at=excluded.updated_at`,
		org.ID, org.Name, nullable(org.Region), nullable(org.Data), org.IsDeleted,
		nullable(org.CreatedBy), org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

// Role assignment store -----------------------------------------------------

type roleAssignmentStore struct{ q querier }

func (s *roleAssignmentStore) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		select ur.role_name from user_roles ur
		join roles r on r.name = ur.role_name
		where ur.user_id=$1 order by r.position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func (s *roleAssignmentStore) Add(ctx context.Context, userID string, role Role) error {
	_, err := s.q.ExecContext(ctx, `
		insert into user_roles (user_id, role_name) values ($1,$2)
		on conflict do nothing`,
		userID, role.Name,
	)
	if err != nil {
		return mapPGError(err)
	}
	return nil
}

func (s *roleAssignmentStore) Remove(ctx context.Context, userID string, roles []string) error {
	for _, name := range roles {
		if _, err := s.q.ExecContext(ctx,
			`delete from user_roles where user_id=$1 and role_name=$2`, userID, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *roleAssignmentStore) Ensure(ctx context.Context, roles []Role) error {
	for i, role := range roles {
		_, err := s.q.ExecContext(ctx, `
			insert into roles (name, position) values ($1,$2)
			on conflict (name) do update set position=excluded.position`,
			role.Name, i,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
