package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"auction-logistics/calc"
	"auction-logistics/calc-service/internal/entity"
	"auction-logistics/calc-service/internal/service"
	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/xerrors"
)

// CalcHandler handles calculation and matrix requests.
type CalcHandler struct {
	calcService *service.CalcService
}

// NewCalcHandler creates a new CalcHandler instance.
func NewCalcHandler(calcService *service.CalcService) *CalcHandler {
	return &CalcHandler{calcService: calcService}
}

// Register mounts the routes. Calculations are public; matrix writes need
// matrices:write.
func (h *CalcHandler) Register(e *echo.Echo, jwtSecret string) {
	g := e.Group("/calc")
	g.POST("/auction", h.Auction)
	g.POST("/towing", h.Towing)
	g.POST("/shipping", h.Shipping)
	g.POST("/additional", h.Additional)
	g.POST("/customs", h.Customs)
	g.POST("/total", h.Total)
	g.POST("/quote", h.Quote)
	g.GET("/errors", h.Errors)
	g.GET("/matrices", h.ListOverrides)
	g.GET("/matrices/:kind", h.GetMatrix)

	admin := g.Group("/matrices", auth.Middleware(jwtSecret), auth.Require(auth.MatricesWrite))
	admin.PUT("/:kind", h.PutMatrix)
	admin.DELETE("/:kind", h.ResetMatrix)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request payload", xerrors.ErrInvalidInput)
	}
	return nil
}

// Auction --> POST /calc/auction
func (h *CalcHandler) Auction(c echo.Context) error {
	var in calc.AuctionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	fees, err := h.calcService.Auction(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fees)
}

// Towing --> POST /calc/towing
func (h *CalcHandler) Towing(c echo.Context) error {
	var in calc.TowingInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.calcService.Towing(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Shipping --> POST /calc/shipping
func (h *CalcHandler) Shipping(c echo.Context) error {
	var in calc.ShippingInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.calcService.Shipping(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Additional --> POST /calc/additional
func (h *CalcHandler) Additional(c echo.Context) error {
	var in calc.AdditionalInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.calcService.Additional(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Customs --> POST /calc/customs
func (h *CalcHandler) Customs(c echo.Context) error {
	var in calc.CustomsInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.calcService.Customs(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Total --> POST /calc/total
func (h *CalcHandler) Total(c echo.Context) error {
	var in calc.TotalInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.calcService.Total(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Quote --> POST /calc/quote
func (h *CalcHandler) Quote(c echo.Context) error {
	var req entity.QuoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	q, err := h.calcService.Quote(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

// Errors --> GET /calc/errors
func (h *CalcHandler) Errors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.calcService.Errors())
}

func kindParam(c echo.Context) (calc.Kind, error) {
	kind, ok := calc.ParseKind(c.Param("kind"))
	if !ok {
		return "", fmt.Errorf("matrix kind %q: %w", c.Param("kind"), xerrors.ErrNotFound)
	}
	return kind, nil
}

// GetMatrix --> GET /calc/matrices/:kind
func (h *CalcHandler) GetMatrix(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	view, err := h.calcService.GetMatrix(c.Request().Context(), kind)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// ListOverrides --> GET /calc/matrices
func (h *CalcHandler) ListOverrides(c echo.Context) error {
	list, err := h.calcService.ListOverrides(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

type putMatrixRequest struct {
	Version int64           `json:"version" validate:"gte=0"`
	Rows    json.RawMessage `json:"rows" validate:"required"`
}

// PutMatrix --> PUT /calc/matrices/:kind
func (h *CalcHandler) PutMatrix(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	var req putMatrixRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, err := auth.FromContext(c)
	if err != nil {
		return err
	}

	o, err := h.calcService.PutMatrix(c.Request().Context(), kind, req.Rows, req.Version, p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

// ResetMatrix --> DELETE /calc/matrices/:kind
func (h *CalcHandler) ResetMatrix(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	p, err := auth.FromContext(c)
	if err != nil {
		return err
	}
	if err := h.calcService.ResetMatrix(c.Request().Context(), kind, p.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
