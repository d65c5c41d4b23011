package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/user"
)

type organizationApi struct {
	svc      *organization.Service
	validate *validator.Validate
}

func registerOrganizationAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := organizationApi{svc: deps.OrgSvc, validate: deps.Validate}

	og := g.Group("/organization", authed...)
	og.GET("", api.retrieve)
	og.PUT("", api.update, adminMiddleware(user.RoleAdminOwner))
}

func (api *organizationApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctxOrganization(ctx))
}

func (api *organizationApi) update(ctx echo.Context) error {
	var data organization.UpdateOrganization
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	org, err := api.svc.Update(ctx.Request().Context(), ctxOrganization(ctx).ID, data)
	if err != nil {
		return errors.Wrap(err, "updating organization")
	}
	return ctx.JSON(http.StatusOK, org)
}
