package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"gowa-sessions/internal/ws"
)

// NewUpgrader allows the configured CORS origins; "*" or an empty list
// allows any origin.
func NewUpgrader(allowOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowOrigins))
	anyOrigin := len(allowOrigins) == 0
	for _, o := range allowOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return anyOrigin || origin == "" || allowed[origin]
		},
	}
}

// GET /api/ws?sessionId=
func WebSocketHandler(hub *ws.Hub, upgrader websocket.Upgrader, log zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return nil
		}

		client := ws.NewClient(hub, conn, c.QueryParam("sessionId"))
		if !hub.Register(client) {
			_ = conn.Close()
			return nil
		}

		go client.WritePump()
		go client.ReadPump()
		return nil
	}
}
