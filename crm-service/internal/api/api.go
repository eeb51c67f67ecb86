package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"auction-logistics/crm-service/internal/entity"
	"auction-logistics/crm-service/internal/service"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

// CRMHandler serves pipelines and deals. Every route needs a bearer token;
// permissions are checked by the service.
type CRMHandler struct {
	crmService *service.CRMService
}

func NewCRMHandler(crmService *service.CRMService) *CRMHandler {
	return &CRMHandler{crmService: crmService}
}

func (h *CRMHandler) Register(e *echo.Echo, jwtSecret string) {
	g := e.Group("/crm", auth.Middleware(jwtSecret))

	g.GET("/pipelines", h.ListPipelines)
	g.POST("/pipelines", h.CreatePipeline)
	g.GET("/pipelines/:id", h.GetPipeline)
	g.PUT("/pipelines/:id", h.UpdatePipeline)
	g.DELETE("/pipelines/:id", h.DeletePipeline)

	g.GET("/deals", h.ListDeals)
	g.POST("/deals", h.CreateDeal)
	g.GET("/deals/:id", h.GetDeal)
	g.PATCH("/deals/:id", h.UpdateDeal)
	g.DELETE("/deals/:id", h.DeleteDeal)
	g.POST("/deals/:id/move", h.MoveDeal)
	g.POST("/deals/:id/won", h.MarkWon)
	g.POST("/deals/:id/lost", h.MarkLost)
	g.POST("/deals/:id/reopen", h.ReopenDeal)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request payload", xerrors.ErrInvalidInput)
	}
	return nil
}

func principal(c echo.Context) (auth.Principal, error) {
	return auth.FromContext(c)
}

// ListPipelines --> GET /crm/pipelines
func (h *CRMHandler) ListPipelines(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pipelines, err := h.crmService.ListPipelines(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pipelines)
}

// CreatePipeline --> POST /crm/pipelines
func (h *CRMHandler) CreatePipeline(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.PipelineInput
	if err := bind(c, &in); err != nil {
		return err
	}
	pipeline, err := h.crmService.CreatePipeline(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pipeline)
}

func (h *CRMHandler) GetPipeline(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pipeline, err := h.crmService.GetPipeline(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pipeline)
}

func (h *CRMHandler) UpdatePipeline(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.PipelineInput
	if err := bind(c, &in); err != nil {
		return err
	}
	pipeline, err := h.crmService.UpdatePipeline(c.Request().Context(), p, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pipeline)
}

func (h *CRMHandler) DeletePipeline(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.crmService.DeletePipeline(c.Request().Context(), p, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func queryInt(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", xerrors.ErrInvalidInput, name)
	}
	return n, nil
}

func dealFilter(c echo.Context) (entity.DealFilter, error) {
	f := entity.DealFilter{
		PipelineID: c.QueryParam("pipelineId"),
		StageID:    c.QueryParam("stageId"),
	}

	owner, err := queryInt(c, "ownerId")
	if err != nil {
		return f, err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return f, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return f, err
	}
	f.OwnerID, f.Limit, f.Offset = owner, int(limit), int(offset)

	switch outcome := c.QueryParam("outcome"); outcome {
	case "":
	case "open":
		open := entity.OutcomeOpen
		f.Outcome = &open
	case string(entity.OutcomeWon), string(entity.OutcomeLost):
		o := entity.Outcome(outcome)
		f.Outcome = &o
	default:
		return f, fmt.Errorf("%w: outcome must be open, won or lost", xerrors.ErrInvalidInput)
	}
	return f, nil
}

// ListDeals --> GET /crm/deals?pipelineId=&stageId=&ownerId=&outcome=&limit=&offset=
func (h *CRMHandler) ListDeals(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	f, err := dealFilter(c)
	if err != nil {
		return err
	}
	deals, err := h.crmService.ListDeals(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deals)
}

// CreateDeal --> POST /crm/deals, honours the Idempotency-Key header
func (h *CRMHandler) CreateDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.DealInput
	if err := bind(c, &in); err != nil {
		return err
	}
	deal, err := h.crmService.CreateDeal(c.Request().Context(), p, in, c.Request().Header.Get("Idempotency-Key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, deal)
}

func (h *CRMHandler) GetDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	deal, err := h.crmService.GetDeal(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *CRMHandler) UpdateDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var patch entity.DealPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	deal, err := h.crmService.UpdateDeal(c.Request().Context(), p, c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *CRMHandler) DeleteDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.crmService.DeleteDeal(c.Request().Context(), p, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CRMHandler) MoveDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.MoveInput
	if err := bind(c, &in); err != nil {
		return err
	}
	deal, err := h.crmService.MoveDeal(c.Request().Context(), p, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *CRMHandler) MarkWon(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.CloseInput
	if err := bind(c, &in); err != nil {
		return err
	}
	deal, err := h.crmService.MarkWon(c.Request().Context(), p, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *CRMHandler) MarkLost(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.CloseInput
	if err := bind(c, &in); err != nil {
		return err
	}
	deal, err := h.crmService.MarkLost(c.Request().Context(), p, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}

func (h *CRMHandler) ReopenDeal(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var in entity.ReopenInput
	if err := bind(c, &in); err != nil {
		return err
	}
	deal, err := h.crmService.ReopenDeal(c.Request().Context(), p, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deal)
}
