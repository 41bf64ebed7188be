package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handlePlay upgrades the HTTP request and runs the same session loop
// the TCP transport runs. Websocket frames are length-delimited by the
// protocol itself, so both transports satisfy the framing contract.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade: %v", err)
		return
	}
	s.sessions.HandleConn(&wsConn{conn: conn, timeout: defaultReadTimeout})
}

// wsConn adapts a websocket connection to the message-oriented Conn
// interface. Normal and going-away closes surface as io.EOF so the
// session loop treats them like a clean TCP close.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	_, payload, err := c.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *wsConn) WriteMessage(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
