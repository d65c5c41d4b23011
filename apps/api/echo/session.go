package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/session"
)

const maxGenerateAhead = 2 * 366 * 24 * time.Hour

type sessionApi struct {
	svc      *session.Service
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := sessionApi{svc: deps.SessionSvc, validate: deps.Validate}

	sg := g.Group("/sessions", authed...)
	sg.Use(adminMiddleware())
	sg.GET("", api.query)
	sg.POST("", api.create)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
	sg.POST("/:id/generate", api.generate)

	ig := g.Group("/instances", authed...)
	ig.GET("", api.queryInstances)
	ig.GET("/:id", api.retrieveInstance)
	ig.POST("/:id/cancel", api.cancelInstance)
	ig.POST("/:id/reschedule", api.rescheduleInstance)
}

func (api *sessionApi) create(ctx echo.Context) error {
	var data session.NewSession
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	s, res, err := api.svc.Create(ctx.Request().Context(), ctxUser(ctx).OrganizationID, data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, SessionResponse{Session: s, Generated: res})
}

func (api *sessionApi) query(ctx echo.Context) error {
	var filter session.SessionFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []session.Session{})
	}

	sessions, err := api.svc.Query(ctx.Request().Context(), ctxUser(ctx).OrganizationID, filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) update(ctx echo.Context) error {
	var data session.UpdateSession
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	s, res, err := api.svc.Update(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Session: s, Generated: res})
}

func (api *sessionApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) generate(ctx echo.Context) error {
	var data GenerateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateRequest")
	}
	if err := data.Validate(time.Now(), api.svc.Horizon()); err != nil {
		return err
	}

	res, err := api.svc.Generate(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), data.Until, data.AllowConflicts)
	if err != nil {
		return errors.Wrap(err, "generating instances")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *sessionApi) queryInstances(ctx echo.Context) error {
	var filter session.InstanceFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to InstanceFilter")
	}

	instances, err := api.svc.ListInstances(ctx.Request().Context(), ctxUser(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "listing instances")
	}
	if instances == nil {
		instances = []session.Instance{}
	}
	return ctx.JSON(http.StatusOK, instances)
}

func (api *sessionApi) retrieveInstance(ctx echo.Context) error {
	inst, err := api.svc.GetInstance(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting instance")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *sessionApi) cancelInstance(ctx echo.Context) error {
	var data session.CancelInstance
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	inst, err := api.svc.Cancel(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "cancelling instance")
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *sessionApi) rescheduleInstance(ctx echo.Context) error {
	var data session.RescheduleInstance
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	inst, err := api.svc.Reschedule(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "rescheduling instance")
	}
	return ctx.JSON(http.StatusOK, inst)
}

type (
	SessionResponse struct {
		Session   session.Session        `json:"session"`
		Generated session.GenerateResult `json:"generated"`
	}

	// GenerateRequest materializes instances up to Until; now + horizon when omitted.
	GenerateRequest struct {
		Until          time.Time `json:"until"`
		AllowConflicts bool      `json:"allow_conflicts"`
	}
)

func (gr *GenerateRequest) Validate(now time.Time, horizon time.Duration) error {
	if gr.Until.IsZero() {
		gr.Until = now.Add(horizon)
	}
	if !gr.Until.After(now) {
		return core.NewFieldError("until", "must be in the future")
	}
	if gr.Until.Sub(now) > maxGenerateAhead {
		return core.NewFieldError("until", "may not be more than two years ahead")
	}
	return nil
}
