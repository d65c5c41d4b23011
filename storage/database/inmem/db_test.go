package inmemdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/organization"
)

func TestDB_InTx(t *testing.T) {
	ctx := context.Background()
	db := Open()
	repo := NewOrganizationRepository(db)

	acme, err := repo.CreateOrganization(ctx, organization.Organization{Name: "Acme", Slug: "acme", Timezone: "UTC"})
	require.NoError(t, err)

	errBoom := errors.New("boom")
	err = db.InTx(ctx, func(exec core.DBExecutor) error {
		if _, err := repo.CreateOrganization(ctx, organization.Organization{Name: "Globex", Slug: "globex"}, exec); err != nil {
			return err
		}
		renamed := acme
		renamed.Name = "Acme Inc"
		if _, err := repo.UpdateOrganization(ctx, renamed, exec); err != nil {
			return err
		}
		return errBoom
	})
	assert.Equal(t, errBoom, err)

	// rolled back
	_, err = repo.GetOrganization(ctx, organization.GetFilter{Slug: "globex"})
	assert.Equal(t, organization.ErrNotFound, err)
	got, err := repo.GetOrganization(ctx, organization.GetFilter{ID: acme.ID})
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	err = db.InTx(ctx, func(exec core.DBExecutor) error {
		_, err := repo.CreateOrganization(ctx, organization.Organization{Name: "Globex", Slug: "globex"}, exec)
		return err
	})
	require.NoError(t, err)
	_, err = repo.GetOrganization(ctx, organization.GetFilter{Slug: "globex"})
	assert.NoError(t, err)
}
