package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gowa-sessions/internal/service"
)

type SendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type SendMediaRequest struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}

// POST /api/sessions/:sessionId/send-message
func (h *Handler) SendMessage(c echo.Context) error {
	sessionID := c.Param("sessionId")

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if req.To == "" || req.Message == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'to' and 'message' are required", "VALIDATION_ERROR", "")
	}

	id, err := h.svc.SendMessage(c.Request().Context(), sessionID, req.To, req.Message)
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Message sent", map[string]any{
		"sessionId": sessionID,
		"messageId": id,
		"to":        req.To,
	})
}

// POST /api/sessions/:sessionId/send-media
func (h *Handler) SendMedia(c echo.Context) error {
	sessionID := c.Param("sessionId")

	var req SendMediaRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if req.To == "" || req.MediaURL == "" || req.Type == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'to', 'type' and 'mediaUrl' are required", "VALIDATION_ERROR", "")
	}

	id, err := h.svc.SendMedia(c.Request().Context(), sessionID, service.MediaRequest{
		To:       req.To,
		Kind:     req.Type,
		URL:      req.MediaURL,
		Caption:  req.Caption,
		FileName: req.FileName,
	})
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Media sent", map[string]any{
		"sessionId": sessionID,
		"messageId": id,
		"to":        req.To,
		"type":      req.Type,
	})
}

// GET /api/sessions/:sessionId/messages?limit=&offset=
func (h *Handler) ListMessages(c echo.Context) error {
	sessionID := c.Param("sessionId")
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Query 'limit' must be a number", "VALIDATION_ERROR", "")
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Query 'offset' must be a number", "VALIDATION_ERROR", "")
	}

	msgs, err := h.svc.ListMessages(c.Request().Context(), sessionID, limit, offset)
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Messages retrieved", map[string]any{
		"sessionId": sessionID,
		"limit":     limit,
		"offset":    offset,
		"count":     len(msgs),
		"messages":  msgs,
	})
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
