package api

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/braid-game/braid/service/i"
	"github.com/sirupsen/logrus"
)

// defaultReadTimeout bounds how long a session waits for the next
// request before the connection is considered dead.
const defaultReadTimeout = 5 * time.Minute

// TCPServer accepts raw TCP connections and hands each one, wrapped in
// the frame codec, to the session server. One goroutine per connection.
type TCPServer struct {
	handler     i.SessionServer
	logger      logrus.FieldLogger
	readTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

// NewTCPServer returns a server dispatching connections to handler.
func NewTCPServer(handler i.SessionServer, logger logrus.FieldLogger) *TCPServer {
	return &TCPServer{
		handler:     handler,
		logger:      logger,
		readTimeout: defaultReadTimeout,
	}
}

// ListenAndServe listens on addr and serves until Stop is called or the
// listener fails.
func (s *TCPServer) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Infof("session transport listening on %s", addr)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handler.HandleConn(&frameConn{conn: conn, reader: bufio.NewReader(conn), timeout: s.readTimeout})
	}
}

// Stop closes the listener; in-flight sessions run to completion.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// frameConn adapts a net.Conn to the message-oriented Conn interface
// using the 4-byte length-prefix framing.
type frameConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func (c *frameConn) ReadMessage() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	return ReadFrame(c.reader)
}

func (c *frameConn) WriteMessage(payload []byte) error {
	return WriteFrame(c.conn, payload)
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}
