// Package transport moves Modbus TCP frames over a single TCP connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var (
	// ErrNotConnected is returned when no connection is open.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout is returned when an I/O deadline expires.
	ErrTimeout = errors.New("i/o timeout")

	// ErrClosed is returned when the connection was closed during I/O.
	ErrClosed = errors.New("connection closed")

	// ErrBadFrame is returned when the MBAP length field cannot describe a
	// frame that fits the receive buffer.
	ErrBadFrame = errors.New("bad frame length")
)

const (
	headerSize      = 7
	keepAlivePeriod = 30 * time.Second
)

// TCPTransport implements a TCP transport for Modbus TCP.
//
// The mutex guards the connection pointer only and is never held across I/O,
// so Close from another goroutine unblocks a pending Send or Receive.
// Serializing request/response pairs is the caller's job.
type TCPTransport struct {
	addr        string
	dialTimeout time.Duration

	mu          sync.Mutex
	readTimeout time.Duration
	conn        net.Conn
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, dialTimeout, readTimeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:        addr,
		dialTimeout: dialTimeout,
		readTimeout: readTimeout,
	}
}

// Addr returns the remote address.
func (t *TCPTransport) Addr() string {
	return t.addr
}

// SetReadTimeout changes the response timeout used when ctx has no deadline.
func (t *TCPTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

// Connect establishes a TCP connection. It is a no-op when already connected.
func (t *TCPTransport) Connect(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   t.dialTimeout,
		KeepAlive: keepAlivePeriod,
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", t.addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
		tcpConn.SetNoDelay(true)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		// Lost a race with another Connect; keep the existing conn.
		conn.Close()
		return nil
	}
	t.conn = conn
	return nil
}

// Close closes the TCP connection. Closing a closed transport is a no-op.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsConnected returns true if the transport holds an open connection.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes data to the connection.
func (t *TCPTransport) Send(ctx context.Context, data []byte) error {
	conn, timeout := t.current()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline(ctx, timeout)); err != nil {
		t.drop(conn)
		return classify(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetWriteDeadline(time.Now()) })
	defer stop()

	for written := 0; written < len(data); {
		n, err := conn.Write(data[written:])
		if err != nil {
			t.drop(conn)
			return classify(ctx, err)
		}
		written += n
	}
	return nil
}

// Receive reads one MBAP frame into buf and returns its size. A frame that
// does not fit in buf fails with ErrBadFrame. Any failure closes the
// connection because the stream position is no longer known.
func (t *TCPTransport) Receive(ctx context.Context, buf []byte) (int, error) {
	conn, timeout := t.current()
	if conn == nil {
		return 0, ErrNotConnected
	}
	if len(buf) < headerSize {
		return 0, fmt.Errorf("%w: buffer of %d bytes", ErrBadFrame, len(buf))
	}

	if err := conn.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		t.drop(conn)
		return 0, classify(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
		t.drop(conn)
		return 0, classify(ctx, err)
	}

	// Length counts the unit ID, which is already part of the header.
	length := int(buf[4])<<8 | int(buf[5])
	size := headerSize - 1 + length
	if length < 2 || size > len(buf) {
		t.drop(conn)
		return 0, fmt.Errorf("%w: length field %d, buffer %d", ErrBadFrame, length, len(buf))
	}

	if _, err := io.ReadFull(conn, buf[headerSize:size]); err != nil {
		t.drop(conn)
		return 0, classify(ctx, err)
	}
	return size, nil
}

func (t *TCPTransport) current() (net.Conn, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.readTimeout
}

// drop closes conn if it is still the active connection.
func (t *TCPTransport) drop(conn net.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrClosed, ctx.Err())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
