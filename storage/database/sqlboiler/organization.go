package boiledrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/organization"
)

const orgColumns = `id, name, slug, timezone, is_active, created_at, updated_at`

type orgRepository struct {
	repository
}

var _ organization.Repository = (*orgRepository)(nil) // interface compliance check

func NewOrganizationRepository(exec core.DBExecutor) *orgRepository {
	return &orgRepository{repository{exec: exec}}
}

func (repo orgRepository) SlugExists(ctx context.Context, slug string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	err := queries.Raw(`SELECT EXISTS (SELECT 1 FROM organizations WHERE slug = $1)`, slug).
		QueryRowContext(ctx, repo.getExec(exec)).Scan(&exists)
	return exists, errors.Wrap(err, "checking slug")
}

func (repo orgRepository) CreateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	org.ID = newID()
	_, err := queries.Raw(
		`INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		org.ID, org.Name, org.Slug, org.Timezone, org.IsActive, org.CreatedAt.UTC(), org.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return organization.Organization{}, errors.Wrap(err, "inserting organization")
	}
	return org, nil
}

func (repo orgRepository) GetOrganization(ctx context.Context, filter organization.GetFilter, exec ...core.DBExecutor) (organization.Organization, error) {
	var (
		org organization.Organization
		q   = `SELECT ` + orgColumns + ` FROM organizations WHERE `
		arg string
	)
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return org, organization.ErrNotFound
		}
		q, arg = q+"id = $1", filter.ID
	case filter.Slug != "":
		q, arg = q+"slug = $1", filter.Slug
	default:
		return org, organization.ErrNotFound
	}

	err := queries.Raw(q, arg).QueryRowContext(ctx, repo.getExec(exec)).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Timezone, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return organization.Organization{}, trapNoRowsErr(err, organization.ErrNotFound, "getting organization")
	}
	return org, nil
}

func (repo orgRepository) QueryOrganizations(ctx context.Context, exec ...core.DBExecutor) ([]organization.Organization, error) {
	rows, err := queries.Raw(`SELECT ` + orgColumns + ` FROM organizations ORDER BY name`).QueryContext(ctx, repo.getExec(exec))
	if err != nil {
		return nil, errors.Wrap(err, "querying organizations")
	}
	defer func() { _ = rows.Close() }()

	orgs := make([]organization.Organization, 0)
	for rows.Next() {
		var org organization.Organization
		if err = rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Timezone, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning organization")
		}
		orgs = append(orgs, org)
	}
	return orgs, errors.Wrap(rows.Err(), "querying organizations")
}

func (repo orgRepository) UpdateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	res, err := queries.Raw(
		`UPDATE organizations SET name = $2, timezone = $3, is_active = $4, updated_at = $5 WHERE id = $1`,
		org.ID, org.Name, org.Timezone, org.IsActive, org.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return organization.Organization{}, errors.Wrap(err, "updating organization")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return organization.Organization{}, organization.ErrNotFound
	}
	return org, nil
}
