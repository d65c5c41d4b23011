package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/course"
)

type courseApi struct {
	svc      *course.Service
	validate *validator.Validate
}

func registerCourseAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps ServerDeps) {
	api := courseApi{svc: deps.CourseSvc, validate: deps.Validate}

	cg := g.Group("/courses", authed...)
	cg.GET("", api.query)
	cg.POST("", api.create, adminMiddleware())
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, adminMiddleware())
	cg.DELETE("/:id", api.destroy, adminMiddleware())

	cg.POST("/:id/trainers", api.assignTrainers, adminMiddleware())
	cg.DELETE("/:id/trainers/:trainerId", api.unassignTrainer, adminMiddleware())

	cg.GET("/:id/enrollments", api.queryEnrollments)
	cg.POST("/:id/enrollments", api.enroll)
	cg.PUT("/:id/enrollments/:studentId", api.updateEnrollment)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), ctxUser(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.List(ctx.Request().Context(), ctxUser(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) update(ctx echo.Context) error {
	var data course.UpdateCourse
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	c, err := api.svc.Update(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) assignTrainers(ctx echo.Context) error {
	var data course.AssignTrainers
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	c, err := api.svc.AssignTrainers(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "assigning trainers")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) unassignTrainer(ctx echo.Context) error {
	c, err := api.svc.UnassignTrainer(ctx.Request().Context(), ctxUser(ctx).OrganizationID, ctx.Param("id"), ctx.Param("trainerId"))
	if err != nil {
		return errors.Wrap(err, "unassigning trainer")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) queryEnrollments(ctx echo.Context) error {
	var filter course.EnrollmentFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to EnrollmentFilter")
	}

	enrollments, err := api.svc.ListEnrollments(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), filter)
	if err != nil {
		return errors.Wrap(err, "listing enrollments")
	}
	if enrollments == nil {
		enrollments = []course.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	var data course.NewEnrollments
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	enrollments, err := api.svc.Enroll(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "enrolling students")
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *courseApi) updateEnrollment(ctx echo.Context) error {
	var data course.UpdateEnrollment
	if err := bindAndValidate(ctx, &data, api.validate); err != nil {
		return err
	}

	e, err := api.svc.UpdateEnrollmentStatus(ctx.Request().Context(), ctxUser(ctx), ctx.Param("id"), ctx.Param("studentId"), data)
	if err != nil {
		return errors.Wrap(err, "updating enrollment")
	}
	return ctx.JSON(http.StatusOK, e)
}
