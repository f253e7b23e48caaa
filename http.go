package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorBody is the JSON envelope rendered for failed requests.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload describes a failure without internal detail.
type ErrorPayload struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code,omitempty"`
	Category string `json:"category,omitempty"`
	Fields   any    `json:"fields,omitempty"`
}

// NewErrorHandler returns a fiber.ErrorHandler that maps errors with
// HTTPStatus and renders an ErrorBody. It is installed on the app so errors
// returned from route handlers are rendered the same way.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(logger, c.Path(), err)
		return c.Status(status).JSON(body)
	}
}

// NewRouteErrorHandler is the router.ErrorHandler counterpart of
// NewErrorHandler, used by middleware that answers without reaching the app.
func NewRouteErrorHandler(logger Logger) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		status, body := errorResponse(logger, ctx.Path(), err)
		return ctx.JSON(status, body)
	}
}

func errorResponse(logger Logger, path string, err error) (int, ErrorBody) {
	if logger == nil {
		logger = defLogger{}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorBody{Error: ErrorPayload{Message: fiberErr.Message}}
	}

	status := HTTPStatus(err)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"path", path,
			"error", err.Error(),
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		logger.Debug("request rejected",
			"path", path,
			"status", status,
			"text_code", richErr.TextCode,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	}

	payload := ErrorPayload{
		Message:  richErr.Message,
		TextCode: richErr.TextCode,
		Category: fmt.Sprint(richErr.Category),
	}
	if status >= http.StatusInternalServerError {
		payload.Message = "An unexpected server error occurred"
	} else if fields, ok := richErr.Metadata["fields"]; ok {
		payload.Fields = fields
	}

	return status, ErrorBody{Error: payload}
}
