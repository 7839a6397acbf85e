// Package probe plays the device side of a fixture run: it builds command
// payloads, sends them and collects whatever comes back.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"netfixture/internal/command"
)

var ErrUnknownCommand = errors.New("unknown command")

// BuildPayload prefixes text with the marker of kind.
func BuildPayload(kind command.Kind, text string) ([]byte, error) {
	switch kind {
	case command.ReplyBoundPort:
		return []byte(command.PrefixReplyBoundPort + text), nil
	case command.EchoUntilClosed:
		return append([]byte{command.EchoLoopMarker}, text...), nil
	case command.TriggerTCPClient:
		return []byte(command.PrefixTriggerTCPClient + text), nil
	case command.ReplyFive:
		return []byte(command.PrefixReplyFive + text), nil
	case command.ReplyDiffPort:
		return []byte(command.PrefixReplyDiffPort + text), nil
	case command.Echo:
		return []byte(command.PrefixEcho + text), nil
	case command.Default:
		return []byte(text), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
	}
}

// Reply is one chunk or datagram received from a fixture.
type Reply struct {
	From    string
	Payload []byte
	At      time.Time
}

// TCP sends payload on a fresh connection and reads until the fixture
// closes it or wait passes without data. The connection's local port is
// returned so #REPLY_BOUND_PORT: answers can be checked.
func TCP(ctx context.Context, addr string, payload []byte, wait time.Duration) (int, []Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	localPort := conn.LocalAddr().(*net.TCPAddr).Port
	if _, err := conn.Write(payload); err != nil {
		return localPort, nil, fmt.Errorf("send: %w", err)
	}

	var replies []Reply
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(wait))
		n, err := conn.Read(buf)
		if n > 0 {
			replies = append(replies, Reply{
				From:    conn.RemoteAddr().String(),
				Payload: append([]byte(nil), buf[:n]...),
				At:      time.Now(),
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) {
				return localPort, replies, nil
			}
			return localPort, replies, fmt.Errorf("receive: %w", err)
		}
	}
}

// UDP sends payload from an unconnected socket and gathers datagrams until
// wait passes without one. If alt is non-nil it is read as well, so replies
// addressed to another port are collected too.
func UDP(ctx context.Context, addr string, payload []byte, wait time.Duration, alt *net.UDPConn) ([]Reply, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open socket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.WriteToUDP(payload, raddr); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	replies := make(chan Reply, 16)
	readers := []*net.UDPConn{conn}
	if alt != nil {
		readers = append(readers, alt)
	}

	done := make(chan struct{})
	defer close(done)
	for _, c := range readers {
		go collect(c, replies, done)
	}

	var out []Reply
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case r := <-replies:
			out = append(out, r)
			timer.Reset(wait)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

func collect(conn *net.UDPConn, out chan<- Reply, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		r := Reply{
			From:    from.String() + " -> " + conn.LocalAddr().String(),
			Payload: append([]byte(nil), buf[:n]...),
			At:      time.Now(),
		}
		select {
		case out <- r:
		case <-done:
			return
		}
	}
}

// EchoService echoes every connection accepted on ln until ctx is
// cancelled. It stands in for the device's port 7 service when the trigger
// command is exercised without hardware.
func EchoService(ctx context.Context, ln net.Listener, onData func(from string, data []byte)) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func(conn net.Conn) {
			defer conn.Close()
			buf := make([]byte, 4096)
			for {
				n, err := conn.Read(buf)
				if n > 0 {
					if onData != nil {
						onData(conn.RemoteAddr().String(), buf[:n])
					}
					if _, werr := conn.Write(buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}(conn)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
