package organization

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

var ErrSlugExists = errors.New("an organization with this slug already exists")

type (
	GetFilter struct {
		ID   string
		Slug string
	}

	Repository interface {
		SlugExists(ctx context.Context, slug string, exec ...core.DBExecutor) (bool, error)
		CreateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
		GetOrganization(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Organization, error)
		QueryOrganizations(ctx context.Context, exec ...core.DBExecutor) ([]Organization, error)
		UpdateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create creates a validated NewOrganization.
func (svc *Service) Create(ctx context.Context, no NewOrganization) (Organization, error) {
	exists, err := svc.repo.SlugExists(ctx, no.Slug)
	if err != nil {
		return Organization{}, errors.Wrap(err, "checking slug uniqueness")
	}
	if exists {
		return Organization{}, core.NewValidationError(ErrSlugExists, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
	}

	now := time.Now().UTC()
	org, err := svc.repo.CreateOrganization(ctx, Organization{
		Name:      no.Name,
		Slug:      no.Slug,
		Timezone:  no.Timezone,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return org, errors.Wrap(err, "creating organization")
}

func (svc *Service) Get(ctx context.Context, id string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, GetFilter{ID: id})
}

// Timezone returns the IANA time zone of the organization.
func (svc *Service) Timezone(ctx context.Context, id string) (string, error) {
	org, err := svc.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return org.Timezone, nil
}

func (svc *Service) GetBySlug(ctx context.Context, slug string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

func (svc *Service) Query(ctx context.Context) ([]Organization, error) {
	return svc.repo.QueryOrganizations(ctx)
}

// Update applies a validated UpdateOrganization.
func (svc *Service) Update(ctx context.Context, id string, uo UpdateOrganization) (Organization, error) {
	org, err := svc.Get(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	if uo.Name != "" {
		org.Name = uo.Name
	}
	if uo.Timezone != "" {
		org.Timezone = uo.Timezone
	}
	if uo.IsActive != nil {
		org.IsActive = *uo.IsActive
	}
	org.UpdatedAt = time.Now().UTC()
	org, err = svc.repo.UpdateOrganization(ctx, org)
	return org, errors.Wrap(err, "updating organization")
}
