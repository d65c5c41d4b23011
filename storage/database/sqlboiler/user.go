package boiledrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

const userColumns = `id, organization_id, name, username, email, is_active, roles, telegram_chat_id,
	password_hash, created_at, updated_at, last_login`

var userOrderColumns = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID             string            `boil:"id"`
	OrganizationID string            `boil:"organization_id"`
	Name           string            `boil:"name"`
	Username       null.String       `boil:"username"`
	Email          null.String       `boil:"email"`
	IsActive       bool              `boil:"is_active"`
	Roles          types.StringArray `boil:"roles"`
	TelegramChatID null.Int64        `boil:"telegram_chat_id"`
	PasswordHash   []byte            `boil:"password_hash"`
	CreatedAt      time.Time         `boil:"created_at"`
	UpdatedAt      time.Time         `boil:"updated_at"`
	LastLogin      null.Time         `boil:"last_login"`
}

func (r userRow) unboil() user.User {
	roles := []string(r.Roles)
	if roles == nil {
		roles = []string{}
	}
	return user.User{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Username:       r.Username.String,
		Email:          r.Email.String,
		IsActive:       r.IsActive,
		Roles:          roles,
		TelegramChatID: r.TelegramChatID.Int64,
		PasswordHash:   r.PasswordHash,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		LastLogin:      r.LastLogin.Time.UTC(),
	}
}

func unboilUsers(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.unboil())
	}
	return users
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repository{exec: exec}}
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded = append(excluded, u.ID)
	}
	exe := repo.getExec(exec)

	exists := func(col, val string) (bool, error) {
		if val == "" {
			return false, nil
		}
		var found bool
		err := queries.Raw(
			`SELECT EXISTS (SELECT 1 FROM users WHERE `+col+` = $1 AND NOT (id = ANY ($2::uuid[])))`,
			val, pq.Array(validUUIDs(excluded)),
		).QueryRowContext(ctx, exe).Scan(&found)
		return found, errors.Wrap(err, "checking user uniqueness")
	}

	if found, err := exists("username", username); err != nil || found {
		if found {
			return user.ErrUsernameExists
		}
		return err
	}
	if found, err := exists("email", email); err != nil || found {
		if found {
			return user.ErrEmailExists
		}
		return err
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = newID()
	_, err := queries.Raw(
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		usr.ID, usr.OrganizationID, usr.Name, nullString(usr.Username), nullString(usr.Email), usr.IsActive,
		pq.Array(usr.Roles), null.NewInt64(usr.TelegramChatID, usr.TelegramChatID != 0), usr.PasswordHash,
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, orgID string, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := likePattern(filter.Search)
			where.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			patterns := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				patterns = append(patterns, likePattern(role)[1:])
			}
			where.add("EXISTS (SELECT 1 FROM unnest(roles) AS user_role WHERE user_role LIKE ANY (?))", pq.Array(patterns))
		}
		if filter.IsActive != nil {
			where.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			where.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q, args, err := in(`SELECT `+userColumns+` FROM users`+where.String()+orderBy(ordering, userOrderColumns, "created_at ASC"), where.args...)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return unboilUsers(rows), nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var where whereClause
	if filter.ID != "" {
		if !isUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		where.add("id = ?", filter.ID)
	}
	if filter.OrganizationID != "" {
		if !isUUID(filter.OrganizationID) {
			return user.User{}, user.ErrNotFound
		}
		where.add("organization_id = ?", filter.OrganizationID)
	}
	if filter.Username != "" {
		where.add("username = ?", filter.Username)
	}
	if filter.Email != "" {
		where.add("email = ?", filter.Email)
	}
	if filter.UsernameOrEmail != "" {
		where.add("(username = ? OR email = ?)", filter.UsernameOrEmail, filter.UsernameOrEmail)
	}
	if filter.ID == "" && filter.Username == "" && filter.Email == "" && filter.UsernameOrEmail == "" {
		return user.User{}, user.ErrNotFound
	}

	q, args, err := in(`SELECT `+userColumns+` FROM users`+where.String()+` LIMIT 1`, where.args...)
	if err != nil {
		return user.User{}, err
	}
	var row userRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &row); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return row.unboil(), nil
}

func (repo userRepository) ListUsersByID(ctx context.Context, orgID string, ids []string, exec ...core.DBExecutor) ([]user.User, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return []user.User{}, nil
	}
	q, args, err := in(`SELECT `+userColumns+` FROM users WHERE organization_id = ? AND id IN (?) ORDER BY name`, orgID, ids)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "listing users")
	}
	return unboilUsers(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	res, err := queries.Raw(
		`UPDATE users SET name = $2, username = $3, email = $4, is_active = $5, roles = $6, telegram_chat_id = $7,
			password_hash = $8, updated_at = $9, last_login = $10
		WHERE id = $1`,
		usr.ID, usr.Name, nullString(usr.Username), nullString(usr.Email), usr.IsActive, pq.Array(usr.Roles),
		null.NewInt64(usr.TelegramChatID, usr.TelegramChatID != 0), usr.PasswordHash, usr.UpdatedAt.UTC(),
		null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, orgID string, ids []string, exec ...core.DBExecutor) (int, error) {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := in(`DELETE FROM users WHERE organization_id = ? AND id IN (?)`, orgID, ids)
	if err != nil {
		return 0, err
	}
	res, err := queries.Raw(q, args...).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "deleting users")
}
