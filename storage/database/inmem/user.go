package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func cloneUser(u *user.User) user.User {
	c := *u
	c.Roles = cloneStrings(u.Roles)
	c.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return c
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers []user.User, _ ...core.DBExecutor) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for _, usr := range repo.db.users {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = newID()
	stored := cloneUser(&usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, orgID string, filter *user.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.db.users {
		if usr.OrganizationID != orgID || (filter != nil && !matchUser(usr, filter)) {
			continue
		}
		users = append(users, cloneUser(usr))
	}
	orderBy(users, ordering, core.DBOrdering{Field: "created_at", Ascending: true}, compareUsers)
	return users, nil
}

func matchUser(usr *user.User, filter *user.QueryFilter) bool {
	// users with Name, Username or Email matching the search keyword
	if filter.Search != "" {
		kw := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(usr.Name), kw) &&
			!strings.Contains(strings.ToLower(usr.Username), kw) &&
			!strings.Contains(strings.ToLower(usr.Email), kw) {
			return false
		}
	}
	// users with any role that starts with any of the provided roles
	if len(filter.Roles) > 0 {
		var ok bool
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "username":
		return strings.Compare(a.Username, b.Username)
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "last_login":
		return compareTimes(a.LastLogin, b.LastLogin)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	}
	return 0
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		usr, ok := repo.db.users[filter.ID]
		if !ok || (filter.OrganizationID != "" && usr.OrganizationID != filter.OrganizationID) {
			return user.User{}, user.ErrNotFound
		}
		return cloneUser(usr), nil
	}
	if filter.Username == "" && filter.Email == "" && filter.UsernameOrEmail == "" {
		return user.User{}, user.ErrNotFound
	}

	for _, usr := range repo.db.users {
		switch {
		case filter.OrganizationID != "" && usr.OrganizationID != filter.OrganizationID:
		case filter.Username != "" && usr.Username != filter.Username:
		case filter.Email != "" && usr.Email != filter.Email:
		case filter.UsernameOrEmail != "" && usr.Username != filter.UsernameOrEmail && usr.Email != filter.UsernameOrEmail:
		default:
			return cloneUser(usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) ListUsersByID(_ context.Context, orgID string, ids []string, _ ...core.DBExecutor) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if usr, ok := repo.db.users[id]; ok && usr.OrganizationID == orgID {
			users = append(users, cloneUser(usr))
		}
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	stored := cloneUser(&usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, orgID string, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		if usr, ok := repo.db.users[id]; ok && usr.OrganizationID == orgID {
			delete(repo.db.users, id)
			repo.db.unlinkUser(id)
			cnt++
		}
	}
	return cnt, nil
}

// unlinkUser removes the rows referencing a deleted user, the way the foreign keys do.
// The caller holds the lock.
func (db *DB) unlinkUser(id string) {
	for _, c := range db.courses {
		kept := c.TrainerIDs[:0]
		for _, tid := range c.TrainerIDs {
			if tid != id {
				kept = append(kept, tid)
			}
		}
		c.TrainerIDs = kept
	}
	for eid, e := range db.enrollments {
		if e.StudentID == id {
			delete(db.enrollments, eid)
		}
	}
	for _, s := range db.sessions {
		if s.TrainerID == id {
			s.TrainerID = ""
		}
	}
	for _, inst := range db.instances {
		if inst.TrainerID == id {
			inst.TrainerID = ""
		}
	}
	for rid, r := range db.responses {
		if r.RespondentID == id {
			delete(db.responses, rid)
		}
	}
	for _, c := range db.conversations {
		kept := c.ParticipantIDs[:0]
		for _, pid := range c.ParticipantIDs {
			if pid != id {
				kept = append(kept, pid)
			}
		}
		c.ParticipantIDs = kept
		delete(db.lastRead[c.ID], id)
	}
	for nid, n := range db.notifications {
		if n.UserID == id {
			delete(db.notifications, nid)
		}
	}
	for did, d := range db.deliveries {
		if d.RecipientID == id {
			delete(db.deliveries, did)
		}
	}
}
