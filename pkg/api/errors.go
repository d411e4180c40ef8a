package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/thoughtpilot/ghostplane/pkg/ingest"
)

// mapServiceError maps pipeline errors to structured HTTP error
// responses.
func mapServiceError(c *echo.Context, err error) error {
	var validErr *ingest.ValidationError
	if errors.As(err, &validErr) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: validErr.Error(),
		})
	}
	var procErr *ingest.ProcessingError
	if errors.As(err, &procErr) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Status:  "error",
			Message: procErr.Error(),
		})
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Status:  "error",
		Message: "internal server error",
	})
}
