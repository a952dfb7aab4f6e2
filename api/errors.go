package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

var (
	errForbidden   = errors.New("not allowed to change this board")
	errInvalidBody = errors.New("invalid body")
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps domain failures onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errInvalidBody), domain.IsBadInput(err):
		return http.StatusBadRequest, "bad_input"
	default:
		return http.StatusInternalServerError, "storage"
	}
}

func writeError(c echo.Context, err error) error {
	status, stage := statusFor(err)
	metricsFrom(c).SetErrorStage(stage)
	resp := errorResponse{Error: err.Error()}
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		resp.Field = opErr.Field
	}
	if status == http.StatusInternalServerError {
		log.WithField("route", c.Path()).WithError(err).Error("request failed")
		resp = errorResponse{Error: "internal error"}
	}
	return c.JSON(status, resp)
}
