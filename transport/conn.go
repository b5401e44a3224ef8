package transport

import (
	"bufio"
	"bytes"
	"net"
	"sync"

	"net-bridge/protocol"
)

// Conn frames a net.Conn. Reads go through a buffered protocol.Reader;
// Send encodes a whole frame before any byte reaches the socket, so a frame
// that fails to encode leaves the stream untouched.
type Conn struct {
	conn net.Conn
	r    *protocol.Reader
	bw   *bufio.Writer

	sending sync.Mutex
	scratch bytes.Buffer
}

// NewConn takes ownership of conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    protocol.NewReader(bufio.NewReader(conn)),
		bw:   bufio.NewWriter(conn),
	}
}

// Reader returns the frame reader. Only one goroutine may read at a time.
func (c *Conn) Reader() *protocol.Reader { return c.r }

// Send writes f and flushes.
func (c *Conn) Send(f protocol.Frame) error {
	return c.Encode(func(w *protocol.Writer) error {
		return protocol.WriteFrame(w, f)
	})
}

// Encode runs enc against a scratch writer and, if it succeeds, writes the
// encoded bytes and flushes. enc may write several frames.
func (c *Conn) Encode(enc func(*protocol.Writer) error) error {
	c.sending.Lock()
	defer c.sending.Unlock()

	c.scratch.Reset()
	if err := enc(protocol.NewWriter(&c.scratch)); err != nil {
		return &EncodeError{Err: err}
	}
	if _, err := c.bw.Write(c.scratch.Bytes()); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Conn) Close() error { return c.conn.Close() }

// EncodeError reports a frame that could not be encoded. Nothing was
// written, so the connection is still usable.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "encode frame: " + e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }
