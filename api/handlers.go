package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/calendar"
	"todo-api/domain"
)

const postBodyMaxSize = 64 * 1024

// Clock supplies the evaluation time for "today" computations, injected so
// handlers stay deterministic under test.
type Clock func() time.Time

// Register wires up all API routes on the provided Echo instance and starts
// the event publisher.
func Register(e *echo.Echo, tasks TaskStore, contacts ContactStore, events EventSink, cal *calendar.Builder, auth Authenticator, admins AdminSet, clock Clock, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(tasks, auth, clock))
	e.POST("/api/tasks", postTask(tasks, auth, clock))
	e.POST("/api/tasks/:id/toggle", toggleTask(tasks, auth, clock))
	e.DELETE("/api/tasks/:id", deleteTask(tasks, auth))
	e.GET("/api/calendar", getCalendar(cal, auth, clock, logger))
	e.POST("/api/contact", postContact(contacts, clock))
	e.GET("/api/admin/contact", listContactMessages(contacts, auth, admins))
	e.POST("/api/admin/contact/:id/read", markContactMessageRead(contacts, auth, admins))
	e.GET("/healthz", healthz())

	initEventPublisher(events, logger)
}

type taskListResponse struct {
	Active         []domain.Task `json:"active"`
	Completed      []domain.Task `json:"completed"`
	Total          int           `json:"total"`
	CompletedCount int           `json:"completedCount"`
	Today          domain.Date   `json:"today"`
}

type taskCreateRequest struct {
	Title   string `json:"title"`
	DueDate string `json:"dueDate"`
}

type toggleResponse struct {
	TaskID    string `json:"taskId"`
	Completed bool   `json:"completed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store TaskStore, auth Authenticator, clock Clock) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}

		tasks, err := store.FindByOwner(ctx, owner)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}

		// Newest first, active before completed.
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		})

		resp := taskListResponse{
			Active:    []domain.Task{},
			Completed: []domain.Task{},
			Today:     domain.DateOf(clock()),
		}
		for _, t := range tasks {
			if t.Completed {
				resp.Completed = append(resp.Completed, t)
			} else {
				resp.Active = append(resp.Active, t)
			}
		}
		resp.Total = len(tasks)
		resp.CompletedCount = len(resp.Completed)

		return c.JSON(http.StatusOK, resp)
	}
}

func postTask(store TaskStore, auth Authenticator, clock Clock) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}

		var req taskCreateRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		now := clock().UTC()
		task := domain.Task{
			ID:        uuid.NewString(),
			Title:     req.Title,
			Owner:     owner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if req.DueDate != "" {
			due, err := domain.ParseDate(req.DueDate)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			}
			task.Due = &due
		}
		if err := task.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}

		if err := store.CreateTask(ctx, task); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}

		data, _ := sonic.Marshal(task)
		publishTaskEvents(owner, []domain.TaskEvent{newTaskEvent(task.ID, domain.EventTaskCreated, data)})

		return c.JSON(http.StatusCreated, task)
	}
}

func toggleTask(store TaskStore, auth Authenticator, clock Clock) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}

		task, err := store.GetTask(ctx, c.Param("id"))
		if err != nil {
			return taskLookupError(c, err)
		}
		if !domain.MayAct(task, owner) {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "permission denied"})
		}

		task.Completed = !task.Completed
		task.UpdatedAt = clock().UTC()
		if err := store.UpdateTask(ctx, task); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}

		eventType := domain.EventTaskReopened
		if task.Completed {
			eventType = domain.EventTaskCompleted
		}
		publishTaskEvents(owner, []domain.TaskEvent{newTaskEvent(task.ID, eventType, nil)})

		return c.JSON(http.StatusOK, toggleResponse{TaskID: task.ID, Completed: task.Completed})
	}
}

func deleteTask(store TaskStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}

		task, err := store.GetTask(ctx, c.Param("id"))
		if err != nil {
			return taskLookupError(c, err)
		}
		if !domain.MayAct(task, owner) {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "permission denied"})
		}

		if err := store.DeleteTask(ctx, task); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}

		publishTaskEvents(owner, []domain.TaskEvent{newTaskEvent(task.ID, domain.EventTaskDeleted, nil)})

		return c.NoContent(http.StatusNoContent)
	}
}

func getCalendar(builder *calendar.Builder, auth Authenticator, clock Clock, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newCalendarRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		owner, authErr := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
			return err
		}

		today := domain.DateOf(clock())
		yearParam := c.QueryParam("year")
		monthParam := c.QueryParam("month")
		_, _, fellBack := calendar.ResolveCoordinates(yearParam, monthParam, today)
		metrics.SetFallbackApplied(fellBack)

		buildStart := time.Now()
		view, buildErr := builder.BuildMonth(ctx, yearParam, monthParam, owner, today)
		metrics.ObserveBuild(time.Since(buildStart))
		if buildErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(buildErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Error: buildErr.Error()})
			return err
		}

		bucketed := 0
		for _, day := range view.Days {
			bucketed += len(day.Tasks)
		}
		metrics.SetDaysEmitted(len(view.Days))
		metrics.SetTasksBucketed(bucketed)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, view)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postContact(store ContactStore, clock Clock) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var msg domain.ContactMessage
		if err := decodeBody(c.Request().Body, &msg); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		msg.ID = uuid.NewString()
		msg.IsRead = false
		msg.CreatedAt = clock().UTC()
		if err := msg.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}

		if err := store.SaveMessage(ctx, msg); err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusCreated, msg)
	}
}

func listContactMessages(store ContactStore, auth Authenticator, admins AdminSet) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if !admins.Contains(owner) {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "permission denied"})
		}

		msgs, err := store.ListMessages(ctx)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		})
		if msgs == nil {
			msgs = []domain.ContactMessage{}
		}
		return c.JSON(http.StatusOK, map[string][]domain.ContactMessage{"messages": msgs})
	}
}

func markContactMessageRead(store ContactStore, auth Authenticator, admins AdminSet) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := auth.OwnerFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		if !admins.Contains(owner) {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "permission denied"})
		}

		if err := store.MarkMessageRead(ctx, c.Param("id")); err != nil {
			var notFound NotFoundError
			if errors.As(err, &notFound) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func taskLookupError(c echo.Context, err error) error {
	var notFound NotFoundError
	if errors.As(err, &notFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "task not found"})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func decodeBody(body io.Reader, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, postBodyMaxSize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
