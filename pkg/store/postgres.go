package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/VetGrid/vetgrid-identity-core/pkg/clients/postgres"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// Schema is the DDL for the users table. EnsureSchema applies it;
// deployments that manage migrations externally can run it verbatim
// instead. The unique constraints on external_id and email back the
// CONF_002 mapping in [Postgres.Insert] and [Postgres.Update].
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id              UUID PRIMARY KEY,
    external_id     TEXT NOT NULL,
    email           TEXT NOT NULL,
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    role            TEXT NOT NULL,
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    last_sign_in_at TIMESTAMPTZ NOT NULL,
    synced_at       TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    CONSTRAINT users_external_id_key UNIQUE (external_id),
    CONSTRAINT users_email_key UNIQUE (email)
)`

// pgUniqueViolation is the PostgreSQL error code for a unique constraint
// violation (class 23, integrity constraint violation).
const pgUniqueViolation = "23505"

const userColumns = "id, external_id, email, first_name, last_name, role, active, last_sign_in_at, synced_at, created_at, updated_at"

const selectUserSQL = "SELECT " + userColumns + " FROM users WHERE external_id = $1"

const insertUserSQL = `
INSERT INTO users (id, external_id, email, first_name, last_name, role, active, last_sign_in_at, synced_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const updateUserSQL = `
UPDATE users
SET email = $2, first_name = $3, last_name = $4, role = $5, active = $6, last_sign_in_at = $7, synced_at = $8, updated_at = $9
WHERE external_id = $1`

const setActiveSQL = `
UPDATE users
SET active = $2, updated_at = $3
WHERE external_id = $1
RETURNING ` + userColumns

// Postgres implements [Store] on the platform PostgreSQL client.
//
// Exec-path errors arrive pre-classified by the client (INT_002 or
// TIMEOUT_002 with the driver error preserved in the chain); QueryRow
// errors surface raw at Scan and are classified here. Unique-index
// violations are upgraded to CONF_002 in both paths.
type Postgres struct {
	client *postgres.Client
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a user store on an established PostgreSQL client.
func NewPostgres(client *postgres.Client) (*Postgres, error) {
	if client == nil {
		return nil, vgerr.New(vgerr.CodeValidation, "store: postgres client is required")
	}
	return &Postgres{client: client}, nil
}

// EnsureSchema creates the users table and its unique constraints when
// they do not exist yet. Intended for tests and single-service
// deployments; production rollouts usually apply [Schema] through their
// migration tooling.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Exec(ctx, Schema); err != nil {
		return wrapError("ensure schema", err)
	}
	return nil
}

// GetByExternalID returns the row for an external subject id, or NF_002
// when no row exists.
func (s *Postgres) GetByExternalID(ctx context.Context, externalID string) (models.User, error) {
	row := s.client.QueryRow(ctx, selectUserSQL, externalID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", externalID)
		}
		return models.User{}, wrapError("select user", err)
	}
	return u, nil
}

// Insert persists a new row. CONF_002 when the external id or email is
// already taken.
func (s *Postgres) Insert(ctx context.Context, user models.User) (models.User, error) {
	if err := user.Validate(); err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "store: invalid user")
	}

	_, err := s.client.Exec(ctx, insertUserSQL,
		user.ID, user.ExternalID, user.Email, user.FirstName, user.LastName,
		user.Role, user.Active, user.LastSignInAt, user.SyncedAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			return models.User{}, vgerr.Wrapf(err, vgerr.CodeConflictAlreadyExists,
				"store: user %s already exists", user.ExternalID).WithDetail("constraint", constraint)
		}
		return models.User{}, wrapError("insert user", err)
	}
	return user, nil
}

// Update rewrites the mutable fields of the row matched by ExternalID.
// NF_002 when no row matches; CONF_002 when the new email is already
// taken by another row.
func (s *Postgres) Update(ctx context.Context, user models.User) (models.User, error) {
	if err := user.Validate(); err != nil {
		return models.User{}, vgerr.Wrap(err, vgerr.CodeValidation, "store: invalid user")
	}

	tag, err := s.client.Exec(ctx, updateUserSQL,
		user.ExternalID, user.Email, user.FirstName, user.LastName,
		user.Role, user.Active, user.LastSignInAt, user.SyncedAt, user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			return models.User{}, vgerr.Wrapf(err, vgerr.CodeConflictAlreadyExists,
				"store: email %s already in use", user.Email).WithDetail("constraint", constraint)
		}
		return models.User{}, wrapError("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", user.ExternalID)
	}
	return user, nil
}

// SetActive flips the active flag of the row matched by ExternalID and
// returns the updated row. NF_002 when no row matches.
func (s *Postgres) SetActive(ctx context.Context, externalID string, active bool) (models.User, error) {
	row := s.client.QueryRow(ctx, setActiveSQL, externalID, active, time.Now().UTC())
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, vgerr.Newf(vgerr.CodeNotFoundUser, "store: user %s not found", externalID)
		}
		return models.User{}, wrapError("set user active", err)
	}
	return u, nil
}

// scanUser reads one users row in userColumns order.
func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName,
		&u.Role, &u.Active, &u.LastSignInAt, &u.SyncedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// uniqueViolation reports whether err carries a PostgreSQL unique
// constraint violation anywhere in its chain, and if so which
// constraint fired. Works on both raw driver errors and errors already
// wrapped by the postgres client.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// wrapError maps a storage error to a typed platform error. Errors the
// postgres client already classified pass through unchanged; raw scan
// errors get the same classification the client applies to Exec.
func wrapError(op string, err error) *vgerr.Error {
	if e, ok := vgerr.AsError(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return vgerr.Wrap(err, vgerr.CodeTimeoutDatabase, "store: "+op+" timed out")
	}
	return vgerr.Wrap(err, vgerr.CodeInternalDatabase, "store: "+op+" failed")
}
