package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/organization"
)

type orgRepository struct {
	db *DB
}

var _ organization.Repository = (*orgRepository)(nil) // interface compliance check

func NewOrganizationRepository(db *DB) *orgRepository {
	return &orgRepository{db: db}
}

func (repo *orgRepository) SlugExists(_ context.Context, slug string, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, org := range repo.db.orgs {
		if org.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (repo *orgRepository) CreateOrganization(_ context.Context, org organization.Organization, _ ...core.DBExecutor) (organization.Organization, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	org.ID = newID()
	repo.db.orgs[org.ID] = &org
	return org, nil
}

func (repo *orgRepository) GetOrganization(_ context.Context, filter organization.GetFilter, _ ...core.DBExecutor) (organization.Organization, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if org, ok := repo.db.orgs[filter.ID]; ok {
			return *org, nil
		}
		return organization.Organization{}, organization.ErrNotFound
	}
	for _, org := range repo.db.orgs {
		if filter.Slug != "" && org.Slug == filter.Slug {
			return *org, nil
		}
	}
	return organization.Organization{}, organization.ErrNotFound
}

func (repo *orgRepository) QueryOrganizations(_ context.Context, _ ...core.DBExecutor) ([]organization.Organization, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	orgs := make([]organization.Organization, 0, len(repo.db.orgs))
	for _, org := range repo.db.orgs {
		orgs = append(orgs, *org)
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (repo *orgRepository) UpdateOrganization(_ context.Context, org organization.Organization, _ ...core.DBExecutor) (organization.Organization, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.orgs[org.ID]; !ok {
		return organization.Organization{}, organization.ErrNotFound
	}
	repo.db.orgs[org.ID] = &org
	return org, nil
}
