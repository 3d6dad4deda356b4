package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket upgrades the connection and hands it to the broadcast hub.
// Identity comes from the wallet query param or the session header; without
// either, the client only receives unscoped frames.
func (s *Server) websocket(c *gin.Context) {
	identity := c.Query("wallet")
	if identity == "" {
		if sessionID := c.GetHeader(SessionHeader); sessionID != "" {
			if pk, err := s.Sessions.ParseSessionID(sessionID); err == nil {
				identity = pk
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	s.Hub.HandleConnection(conn, identity)
}
