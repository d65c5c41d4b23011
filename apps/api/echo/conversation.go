package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/conversation"
)

type conversationApi struct {
	svc      *conversation.Service
	validate *validator.Validate
}

func registerConversationAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := conversationApi{svc: deps.ConversationSvc, validate: deps.Validate}

	cg := g.Group("/conversations", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/:id", api.retrieve)
	cg.GET("/:id/messages", api.queryMessages)
	cg.POST("/:id/messages", api.post)
	cg.POST("/:id/read", api.markRead)
	cg.POST("/:id/participants", api.addParticipant)
}

func (api *conversationApi) create(ctx echo.Context) error {
	var data conversation.NewConversation
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), ctxUser(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating conversation")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *conversationApi) query(ctx echo.Context) error {
	summaries, err := api.svc.ListMine(ctx.Request().Context(), ctxUser(ctx))
	if err != nil {
		return errors.Wrap(err, "listing conversations")
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	return ctx.JSON(http.StatusOK, summaries)
}

func (api *conversationApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting conversation")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *conversationApi) queryMessages(ctx echo.Context) error {
	var page conversation.MessagePage
	if err := ctx.Bind(&page); err != nil {
		return errors.Wrap(err, "binding to MessagePage")
	}
	page.Clean()

	msgs, err := api.svc.Messages(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), page)
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *conversationApi) post(ctx echo.Context) error {
	var data conversation.NewMessage
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	msg, err := api.svc.Post(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "posting message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *conversationApi) markRead(ctx echo.Context) error {
	if err := api.svc.MarkRead(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking conversation read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *conversationApi) addParticipant(ctx echo.Context) error {
	var data conversation.AddParticipant
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	c, err := api.svc.AddParticipant(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding participant")
	}
	return ctx.JSON(http.StatusOK, c)
}
