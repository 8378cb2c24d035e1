package handler

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type CreateSessionRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// POST /api/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'sessionId' is required", "VALIDATION_ERROR", "")
	}

	ctx := c.Request().Context()
	if err := h.svc.InitializeSession(ctx, req.SessionID); err != nil {
		return serviceError(c, err)
	}
	if req.Name != "" {
		if err := h.svc.RenameSession(ctx, req.SessionID, req.Name); err != nil {
			return serviceError(c, err)
		}
	}

	state, err := h.svc.GetSession(ctx, req.SessionID)
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusCreated, "Session initialized", state)
}

// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.svc.GetAllSessions(c.Request().Context())
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Sessions retrieved", map[string]any{
		"total":    len(sessions),
		"sessions": sessions,
	})
}

// GET /api/sessions/:sessionId/status
func (h *Handler) GetStatus(c echo.Context) error {
	state, err := h.svc.GetSession(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session status retrieved", state)
}

// GET /api/sessions/:sessionId/qr
//
// ?format=png answers with the image itself instead of the data URL.
func (h *Handler) GetQR(c echo.Context) error {
	sessionID := c.Param("sessionId")
	qr, err := h.svc.GetQRCode(c.Request().Context(), sessionID)
	if err != nil {
		return serviceError(c, err)
	}

	if c.QueryParam("format") == "png" {
		const prefix = "data:image/png;base64,"
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qr, prefix))
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Stored QR code is not a PNG", "QR_DECODE_FAILED", err.Error())
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.Blob(http.StatusOK, "image/png", raw)
	}

	return SuccessResponse(c, http.StatusOK, "QR code retrieved", map[string]any{
		"sessionId": sessionID,
		"qrCode":    qr,
	})
}

// POST /api/sessions/:sessionId/disconnect
func (h *Handler) Disconnect(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if err := h.svc.DisconnectSession(c.Request().Context(), sessionID); err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session disconnected", map[string]any{
		"sessionId": sessionID,
	})
}

// DELETE /api/sessions/:sessionId
func (h *Handler) DeleteSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if err := h.svc.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return serviceError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session deleted", map[string]any{
		"sessionId": sessionID,
	})
}
