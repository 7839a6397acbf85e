package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"netfixture/internal/journal"
)

// Session is one accepted connection. It lives for a single
// request/response exchange and is discarded on close.
type Session struct {
	ID       string
	ctx      context.Context
	conn     net.Conn
	peer     *net.TCPAddr
	exchange *journal.Exchange
	logger   *slog.Logger
}

func newSession(ctx context.Context, conn net.Conn, s *TCPServer) *Session {
	peer, _ := conn.RemoteAddr().(*net.TCPAddr)
	if peer == nil {
		peer = &net.TCPAddr{}
	}
	ex := journal.NewExchange(journal.TCP, conn.RemoteAddr().String())
	return &Session{
		ID:       ex.ID,
		ctx:      ctx,
		conn:     conn,
		peer:     peer,
		exchange: ex,
		logger: s.logger.With(
			"session_id", ex.ID,
			"remote_addr", peer.IP.String(),
			"remote_port", peer.Port,
		),
	}
}

// Peer is the remote endpoint of the session.
func (s *Session) Peer() *net.TCPAddr {
	return s.peer
}

// Send writes data to the peer and counts it as a reply.
func (s *Session) Send(data []byte) error {
	n, err := s.conn.Write(data)
	s.exchange.BytesOut += n
	if err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	s.exchange.Replies++
	return nil
}

// pause sleeps for d unless the fixture is shutting down.
func (s *Session) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.ctx.Done():
	}
}

// isClosed reports errors that just mean the stream is over: EOF from the
// peer or our own close during shutdown.
func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	// On Windows: "An existing connection was forcibly closed by the remote host."
	// On Linux: "connection reset by peer"
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "forcibly closed")
}
