package organization

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

var ErrNotFound = core.NewNotFoundError("organization")

// Organization is a tenant: every other record belongs to exactly one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Location returns the organization's time zone, UTC if it cannot be loaded.
func (org Organization) Location() *time.Location {
	if loc, err := time.LoadLocation(org.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

type NewOrganization struct {
	Name     string `json:"name" validate:"required,max=120"`
	Slug     string `json:"slug" validate:"required,max=63,slug"`
	Timezone string `json:"timezone" validate:"omitempty,tzname"`
}

func (no *NewOrganization) Validate(validate *validator.Validate) error {
	no.Name = core.CleanString(no.Name)
	no.Slug = core.CleanString(no.Slug, true /* lower */)
	no.Timezone = core.CleanString(no.Timezone)
	if no.Timezone == "" {
		no.Timezone = "UTC"
	}
	return validate.Struct(no)
}

// UpdateOrganization defines what information may be provided to modify an existing Organization.
type UpdateOrganization struct {
	Name     string `json:"name" validate:"omitempty,max=120"`
	Timezone string `json:"timezone" validate:"omitempty,tzname"`
	IsActive *bool  `json:"is_active"`
}

func (uo *UpdateOrganization) Validate(validate *validator.Validate) error {
	uo.Name = core.CleanString(uo.Name)
	uo.Timezone = core.CleanString(uo.Timezone)
	return validate.Struct(uo)
}
