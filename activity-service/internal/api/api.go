package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"auction-logistics/activity-service/internal/service"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

type ActivityHandler struct {
	activityService *service.ActivityService
}

// NewActivityHandler creates a new instance of ActivityHandler
func NewActivityHandler(activityService *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activityService: activityService}
}

func (h *ActivityHandler) Register(e *echo.Echo, jwtSecret string) {
	g := e.Group("/activities", auth.Middleware(jwtSecret), auth.Require(auth.ActivitiesRead))
	g.GET("/deals/:id", h.DealTimeline)
}

// DealTimeline lists a deal's activities newest first --> /activities/deals/:id?limit=
func (h *ActivityHandler) DealTimeline(c echo.Context) error {
	p, err := auth.FromContext(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return fmt.Errorf("%w: limit must be a non-negative integer", xerrors.ErrInvalidInput)
		}
	}

	activities, err := h.activityService.Timeline(c.Request().Context(), p, c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, activities)
}
