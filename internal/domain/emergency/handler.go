package emergency

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ertriage/ertriage/internal/domain/triage"
	"github.com/ertriage/ertriage/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.AdmitPatient)
	api.DELETE("/patients", h.ClearPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id/status", h.UpdateStatus)

	api.POST("/triage/classify", h.Classify)

	api.GET("/logs/status", h.ListStatusLogs)
	api.GET("/logs/color", h.ListColorLogs)
	api.GET("/logs/export", h.ExportLogs)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Msg)
	case errors.Is(err, triage.ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrTransitionNotAllowed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type patientListResponse struct {
	*pagination.Response
	Summary Summary `json:"summary"`
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	// The dashboard asks for the whole department unless it pages.
	if c.QueryParam("limit") == "" {
		pg.Limit = 0
	}
	page, err := h.svc.ListPatients(c.Request().Context(), ListQuery{
		Search: c.QueryParam("q"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return httpError(err)
	}
	limit := pg.Limit
	if limit == 0 {
		limit = page.Total
	}
	return c.JSON(http.StatusOK, patientListResponse{
		Response: pagination.NewResponse(page.Patients, page.Total, limit, pg.Offset),
		Summary:  page.Summary,
	})
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var req AdmissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Admit(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ClearPatients(c echo.Context) error {
	if err := h.svc.Clear(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Database cleared successfully. IDs reset to 1.",
	})
}

func (h *Handler) Classify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Preview(req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func logFilter(c echo.Context) (LogFilter, error) {
	pg := pagination.FromContext(c)
	f := LogFilter{Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || pid <= 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	return f, nil
}

func (h *Handler) ListStatusLogs(c echo.Context) error {
	f, err := logFilter(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.StatusLogs(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*StatusLogEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, f.Limit, f.Offset))
}

func (h *Handler) ListColorLogs(c echo.Context) error {
	f, err := logFilter(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ColorLogs(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ColorLogEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, f.Limit, f.Offset))
}

func (h *Handler) ExportLogs(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.svc.ExportLogs(c.Request().Context(), &buf); err != nil {
		return httpError(err)
	}
	name := "triage-logs-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
