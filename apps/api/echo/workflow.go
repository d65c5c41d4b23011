package echoapi

import (
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/workflow"
)

const maxImportSize = 1 << 20

type workflowApi struct {
	svc      *workflow.Service
	validate *validator.Validate
}

func registerWorkflowAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := workflowApi{svc: deps.WorkflowSvc, validate: deps.Validate}

	wg := g.Group("/workflows", authed...)
	wg.Use(adminMiddleware())
	wg.GET("", api.query)
	wg.POST("", api.create)
	wg.POST("/import", api.importDefinitions)
	wg.GET("/:id", api.retrieve)
	wg.PUT("/:id", api.replace)
	wg.DELETE("/:id", api.destroy)

	dg := g.Group("/deliveries", authed...)
	dg.Use(adminMiddleware())
	dg.GET("", api.queryDeliveries)
	dg.POST("/:id/retry", api.retryDelivery)
}

func (api *workflowApi) create(ctx echo.Context) error {
	var data workflow.NewWorkflow
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	wf, err := api.svc.Create(ctx.Request().Context(), ctxUser(ctx).OrganizationID, data)
	if err != nil {
		return errors.Wrap(err, "creating workflow")
	}
	return ctx.JSON(http.StatusCreated, wf)
}

// importDefinitions creates or replaces, by name, the workflows of a YAML or JSON document.
func (api *workflowApi) importDefinitions(ctx echo.Context) error {
	body := io.LimitReader(ctx.Request().Body, maxImportSize)
	wfs, err := api.svc.Import(ctx.Request().Context(), ctxUser(ctx).OrganizationID, body, api.validate)
	if err != nil {
		return errors.Wrap(err, "importing workflows")
	}
	return ctx.JSON(http.StatusOK, wfs)
}

func (api *workflowApi) query(ctx echo.Context) error {
	var filter workflow.WorkflowFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []workflow.Workflow{})
	}

	wfs, err := api.svc.Query(ctx.Request().Context(), ctxUser(ctx).OrganizationID, filter)
	if err != nil {
		return errors.Wrap(err, "querying workflows")
	}
	if wfs == nil {
		wfs = []workflow.Workflow{}
	}
	return ctx.JSON(http.StatusOK, wfs)
}

func (api *workflowApi) retrieve(ctx echo.Context) error {
	wf, err := api.svc.Get(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting workflow")
	}
	return ctx.JSON(http.StatusOK, wf)
}

func (api *workflowApi) replace(ctx echo.Context) error {
	var data workflow.NewWorkflow
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	wf, err := api.svc.Replace(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "replacing workflow")
	}
	return ctx.JSON(http.StatusOK, wf)
}

func (api *workflowApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting workflow")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *workflowApi) queryDeliveries(ctx echo.Context) error {
	var filter workflow.DeliveryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to DeliveryFilter")
	}

	ds, err := api.svc.ListDeliveries(ctx.Request().Context(), ctxUser(ctx).OrganizationID, filter)
	if err != nil {
		return errors.Wrap(err, "listing deliveries")
	}
	if ds == nil {
		ds = []workflow.Delivery{}
	}
	return ctx.JSON(http.StatusOK, ds)
}

func (api *workflowApi) retryDelivery(ctx echo.Context) error {
	d, err := api.svc.RetryDelivery(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrying delivery")
	}
	return ctx.JSON(http.StatusOK, d)
}
