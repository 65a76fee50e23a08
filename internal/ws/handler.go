package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/ws"
	"github.com/rs/zerolog/log"
)

type wsHandler struct {
	notificationHub *ws.WebSocketNotificationHub
}

// writeWait bounds a single event write to a client.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func RegisterRoutes(rg *gin.RouterGroup, hub *ws.WebSocketNotificationHub, auth gin.HandlerFunc) {
	handler := wsHandler{
		notificationHub: hub,
	}

	routes := rg.Group("/ws")
	routes.GET("/escrow/:sessionId", auth, handler.serveEscrow)
}

// serveEscrow streams committed transitions of one escrow session until the
// client goes away.
func (wsh *wsHandler) serveEscrow(c *gin.Context) {
	topic := ws.EscrowTopic(c.Param("sessionId"))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Error upgrading ws connection")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	listener := &deadlineListener{conn: conn}
	defer conn.Close()
	defer wsh.notificationHub.UnregisterListener(topic, listener)

	wsh.notificationHub.RegisterListener(topic, listener)

	for {
		var buffer any
		err := conn.ReadJSON(&buffer)
		if err != nil {
			log.Debug().Err(err).Msg("ws listener closed for " + topic)
			return
		}
	}
}

// deadlineListener fails writes to a client that stops reading instead of
// blocking its writer forever.
type deadlineListener struct {
	conn *websocket.Conn
}

func (l *deadlineListener) WriteJSON(v interface{}) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteJSON(v)
}
