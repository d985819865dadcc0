package chat

import (
	"net"
	"net/http"
	"strings"
	"time"

	"IMCore/logger"
	errs "IMCore/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// credentialFrom pulls the bearer token from the handshake: the token
// query param, or an Authorization: Bearer header.
func credentialFrom(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// HandleWS upgrades the transport and runs the read loop. The
// credential is validated before any other event is processed; a
// rejected handshake mutates nothing.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	client, err := s.Connect(credentialFrom(c.Request), ws)
	if err != nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, BuildErrorFrame(errs.ErrAuthentication))
		_ = ws.Close()
		logger.Infof("[ws] rejected: %v", err)
		return
	}
	defer s.Disconnect(client)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	prevPong := ws.PongHandler()
	ws.SetPongHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if prevPong != nil {
			return prevPong(appData)
		}
		return nil
	})

	// read loop: read only, never write; the write pump owns the socket
	// for writes and exits when Disconnect closes the client.
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s err=%v", client.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", client.ConnID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.HandleFrame(client, data)
	}
}

// Routes mounts the gateway endpoints.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"gateway":     s.conf.GatewayID,
			"connections": s.reg.ConnCount(),
		})
	})
}
