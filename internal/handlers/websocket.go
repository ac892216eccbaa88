package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/consult-signaling/internal/signaling"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the request and hands the socket to the relay.
// Rooms are joined afterwards with a join-room event.
func HandleSignaling(relay *signaling.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to upgrade connection")
			return
		}

		relay.Serve(c.Request.Context(), conn)
	}
}
