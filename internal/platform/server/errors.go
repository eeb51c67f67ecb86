package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"auction-logistics/internal/platform/xerrors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            "INVALID_INPUT",
	http.StatusUnauthorized:          "UNAUTHORIZED",
	http.StatusForbidden:             "FORBIDDEN",
	http.StatusNotFound:              "NOT_FOUND",
	http.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	http.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	http.StatusTooManyRequests:       "RATE_LIMITED",
	http.StatusServiceUnavailable:    "UNAVAILABLE",
}

// ErrorHandler writes every handler error as {"error","code"}.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := resolve(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Request().URL.Path).Msg("request failed")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, body)
	}
	if werr != nil {
		log.Error().Err(werr).Msg("write error response")
	}
}

func resolve(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, ok := statusCodes[he.Code]
		if !ok {
			code = "HTTP_ERROR"
		}
		msg := fmt.Sprint(he.Message)
		if he.Internal != nil && he.Code < http.StatusInternalServerError {
			msg = fmt.Sprintf("%s: %v", msg, he.Internal)
		}
		return he.Code, errorBody{Error: msg, Code: code}
	}

	if xerrors.Known(err) {
		return xerrors.Status(err), errorBody{Error: err.Error(), Code: xerrors.Code(err)}
	}
	return http.StatusInternalServerError, errorBody{Error: xerrors.ErrInternal.Error(), Code: "INTERNAL"}
}
