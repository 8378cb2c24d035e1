package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GET /api/sessions/:sessionId/check-number/:number
func (h *Handler) CheckNumber(c echo.Context) error {
	info, err := h.svc.CheckNumber(c.Request().Context(), c.Param("sessionId"), c.Param("number"))
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Phone number checked", map[string]any{
		"number":       info.Number,
		"isRegistered": info.Exists,
		"jid":          info.JID,
	})
}

// GET /api/sessions/:sessionId/profile/:number
func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.GetProfile(c.Request().Context(), c.Param("sessionId"), c.Param("number"))
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Profile retrieved", p)
}
