package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/goliatone/go-fitsync/core"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorStatus(err error) int {
	mapped := core.MapError(err)
	if mapped == nil || mapped.Code < http.StatusBadRequest {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

func writeError(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), ErrorResponse{
		Error:   string(core.KindOf(err)),
		Message: publicMessage(err),
	})
}

// publicMessage hides internal failure detail from callers.
func publicMessage(err error) string {
	switch core.KindOf(err) {
	case core.KindInternal, core.KindPersistenceFailed:
		return http.StatusText(http.StatusInternalServerError)
	}
	mapped := core.MapError(err)
	if mapped == nil || mapped.Message == "" {
		return err.Error()
	}
	return mapped.Message
}

// ErrorHandler is installed as echo's HTTPErrorHandler so router failures
// and handler errors share one response shape.
func (s *Server) ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if text, ok := httpErr.Message.(string); ok && text != "" {
			message = text
		}
		_ = c.JSON(httpErr.Code, ErrorResponse{Error: "http_error", Message: message})
		return
	}
	if errorStatus(err) >= http.StatusInternalServerError {
		s.observer.Error(c.Request().Context(), "request failed", map[string]any{
			"path":   c.Path(),
			"method": c.Request().Method,
			"error":  err.Error(),
		})
	}
	_ = writeError(c, err)
}
