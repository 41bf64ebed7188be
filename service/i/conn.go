package i

// Conn is one player's message stream, independent of the transport
// carrying it. Messages are whole records; framing is the transport's
// concern. ReadMessage returns io.EOF on a clean peer close.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	Close() error
}
