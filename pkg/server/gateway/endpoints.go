package gateway

import (
	"errors"
	"net/http"

	"qrgate/pkg/models"
	"qrgate/pkg/registry"

	"github.com/labstack/echo/v4"
)

type selectionBody struct {
	Mode             models.Mode `json:"mode"`
	ManualOverrideID string      `json:"manual_override_id"`
}

type selectionResponse struct {
	Mode              models.Mode `json:"mode"`
	ManualOverrideID  string      `json:"manual_override_id,omitempty"`
	CurrentEndpointID string      `json:"current_endpoint_id"`
}

func (s *Server) healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":              "ok",
		"current_endpoint_id": s.router.Current(),
		"all_down":            s.router.AllDown(),
	})
}

func (s *Server) listEndpoints(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.router.Status())
}

// probeEndpoints runs one probe round on demand. The monitor's completion
// hook re-evaluates selection before the response is written.
func (s *Server) probeEndpoints(ctx echo.Context) error {
	if !s.probeLimiter.Allow() {
		return errorJSON(ctx, http.StatusTooManyRequests, "probe rate exceeded, try again later")
	}

	results := s.monitor.ProbeAll(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, map[string]any{
		"results":             results,
		"current_endpoint_id": s.router.Current(),
	})
}

func (s *Server) switchEndpoint(ctx echo.Context) error {
	id := ctx.Param("id")

	ok, err := s.router.SwitchTo(ctx.Request().Context(), id)
	switch {
	case errors.Is(err, registry.ErrEndpointNotFound):
		return errorJSON(ctx, http.StatusNotFound, "unknown endpoint: "+id)
	case err != nil:
		s.logger.Error().Err(err).Str("endpoint", id).Msg("Switch failed")
		return errorJSON(ctx, http.StatusInternalServerError, "switch failed: "+err.Error())
	case !ok:
		return errorJSON(ctx, http.StatusConflict, "endpoint "+id+" did not pass its health check")
	}

	return ctx.JSON(http.StatusOK, s.selection())
}

func (s *Server) getSelection(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.selection())
}

func (s *Server) putSelection(ctx echo.Context) error {
	var body selectionBody
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "invalid selection body")
	}

	mode, err := models.ParseMode(string(body.Mode))
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	}

	err = s.selector.Replace(ctx.Request().Context(), models.SelectionState{
		Mode:             mode,
		ManualOverrideID: body.ManualOverrideID,
	})
	switch {
	case errors.Is(err, registry.ErrEndpointNotFound):
		return errorJSON(ctx, http.StatusBadRequest, "unknown endpoint: "+body.ManualOverrideID)
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to store selection")
		return errorJSON(ctx, http.StatusInternalServerError, "failed to store selection")
	}

	s.router.Refresh()
	return ctx.JSON(http.StatusOK, s.selection())
}

func (s *Server) selection() selectionResponse {
	state := s.selector.State()
	return selectionResponse{
		Mode:              state.Mode,
		ManualOverrideID:  state.ManualOverrideID,
		CurrentEndpointID: s.router.Current(),
	}
}
