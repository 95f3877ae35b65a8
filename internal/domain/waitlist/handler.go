package waitlist

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/waitlist/internal/platform/apperr"
	"github.com/ehr/waitlist/pkg/pagination"
	"github.com/ehr/waitlist/pkg/timerange"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/waitlist", h.CreateEntry)
	g.GET("/waitlist", h.SearchEntries)
	g.POST("/waitlist/match", h.FindMatches)
	g.GET("/waitlist/:id", h.GetEntry)
	g.PATCH("/waitlist/:id", h.UpdateEntry)
	g.DELETE("/waitlist/:id", h.CancelEntry)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateEntry(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.CreateEntry(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd Update
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdateEntry(c.Request().Context(), id, upd)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CancelEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.CancelEntry(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SearchEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := SearchFilter{
		Status:       Status(c.QueryParam("status")),
		UrgencyLevel: Urgency(c.QueryParam("urgency_level")),
		PatientName:  c.QueryParam("patient_name"),
	}
	items, total, err := h.svc.SearchEntries(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type matchRequest struct {
	AvailableTimeRanges []timerange.Range `json:"available_time_ranges"`
}

func (h *Handler) FindMatches(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	matches, err := h.svc.FindMatchingEntries(c.Request().Context(), req.AvailableTimeRanges)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  matches,
		"count": len(matches),
	})
}
