package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/questionnaire"
)

type questionnaireApi struct {
	svc      *questionnaire.Service
	validate *validator.Validate
}

func registerQuestionnaireAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := questionnaireApi{svc: deps.QuestionnaireSvc, validate: deps.Validate}

	qg := g.Group("/questionnaires", authed...)
	qg.GET("", api.query)
	qg.POST("", api.create)
	qg.GET("/:id", api.retrieve)
	qg.PUT("/:id", api.update)
	qg.DELETE("/:id", api.destroy)
	qg.POST("/:id/publish", api.publish)
	qg.POST("/:id/unpublish", api.unpublish)
	qg.GET("/:id/responses", api.queryResponses)
	qg.POST("/:id/responses", api.submit)
	qg.GET("/:id/summary", api.summary)
}

func (api *questionnaireApi) create(ctx echo.Context) error {
	var data questionnaire.NewQuestionnaire
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	q, err := api.svc.Create(ctx.Request().Context(), ctxUser(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating questionnaire")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *questionnaireApi) query(ctx echo.Context) error {
	var filter questionnaire.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []questionnaire.Questionnaire{})
	}

	qs, err := api.svc.List(ctx.Request().Context(), ctxUser(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "listing questionnaires")
	}
	if qs == nil {
		qs = []questionnaire.Questionnaire{}
	}
	return ctx.JSON(http.StatusOK, qs)
}

func (api *questionnaireApi) retrieve(ctx echo.Context) error {
	q, err := api.svc.Get(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting questionnaire")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionnaireApi) update(ctx echo.Context) error {
	var data questionnaire.UpdateQuestionnaire
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	q, err := api.svc.Update(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating questionnaire")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionnaireApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting questionnaire")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *questionnaireApi) publish(ctx echo.Context) error {
	return api.setPublished(ctx, true)
}

func (api *questionnaireApi) unpublish(ctx echo.Context) error {
	return api.setPublished(ctx, false)
}

func (api *questionnaireApi) setPublished(ctx echo.Context, published bool) error {
	q, err := api.svc.SetPublished(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), published)
	if err != nil {
		return errors.Wrap(err, "publishing questionnaire")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionnaireApi) submit(ctx echo.Context) error {
	var data questionnaire.SubmitResponse
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	resp, err := api.svc.Submit(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting response")
	}
	return ctx.JSON(http.StatusCreated, resp)
}

func (api *questionnaireApi) queryResponses(ctx echo.Context) error {
	responses, err := api.svc.ListResponses(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing responses")
	}
	if responses == nil {
		responses = []questionnaire.Response{}
	}
	return ctx.JSON(http.StatusOK, responses)
}

func (api *questionnaireApi) summary(ctx echo.Context) error {
	sum, err := api.svc.Summarize(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "summarizing responses")
	}
	return ctx.JSON(http.StatusOK, sum)
}
