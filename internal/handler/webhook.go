package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type WebhookConfigRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// POST /api/sessions/:sessionId/webhook
//
// An empty url turns delivery off.
func (h *Handler) SetWebhook(c echo.Context) error {
	sessionID := c.Param("sessionId")

	var req WebhookConfigRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL != "" && !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return ErrorResponse(c, http.StatusBadRequest, "webhook url must start with http:// or https://", "INVALID_URL", "")
	}

	if err := h.svc.SetWebhook(c.Request().Context(), sessionID, req.URL, req.Secret); err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Webhook config updated", map[string]any{
		"sessionId":  sessionID,
		"webhookUrl": req.URL,
		"hasSecret":  req.URL != "" && req.Secret != "",
	})
}
