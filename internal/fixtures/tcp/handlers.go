package tcp

import (
	"fmt"
	"strconv"

	"netfixture/internal/command"
)

// replyBoundPort answers with the peer's source port in decimal.
func (s *TCPServer) replyBoundPort(sess *Session, _ []byte) error {
	port := sess.Peer().Port
	if err := sess.Send([]byte(strconv.Itoa(port))); err != nil {
		return err
	}
	sess.logger.Info("source_port_replied", "port", port)
	return nil
}

// echoUntilClosed echoes the first chunk and then every following chunk
// until the peer closes. A read error ends the loop like a close does.
func (s *TCPServer) echoUntilClosed(sess *Session, payload []byte) error {
	if err := sess.Send(payload); err != nil {
		return err
	}

	buf := make([]byte, echoChunkSize)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			sess.exchange.BytesIn += n
			if werr := sess.Send(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if !isClosed(err) {
				sess.logger.Warn("echo_loop_read_error", "error", err)
			}
			break
		}
	}

	sess.logger.Info("echo_loop_finished",
		"chunks", sess.exchange.Replies,
		"bytes", sess.exchange.BytesOut,
	)
	return nil
}

// triggerClient echoes the payload and then connects back to the peer as a
// client. Secondary failures are returned for the journal only; the first
// peer already has its echo.
func (s *TCPServer) triggerClient(sess *Session, payload []byte) error {
	if err := sess.Send(payload); err != nil {
		return err
	}
	sess.logger.Info("trigger_requested",
		"text", string(command.Trailing(payload, command.PrefixTriggerTCPClient)),
	)

	rounds, err := s.runTriggerClient(sess)
	if err != nil {
		sess.logger.Warn("trigger_client_failed",
			"rounds_completed", rounds,
			"error", err,
		)
		return fmt.Errorf("%w: %w", errTriggerClient, err)
	}
	sess.logger.Info("trigger_client_finished", "rounds", rounds)
	return nil
}

// echoOnce is the default: echo the whole request, then let the peer settle
// before the connection is closed.
func (s *TCPServer) echoOnce(sess *Session, payload []byte) error {
	if err := sess.Send(payload); err != nil {
		return err
	}
	sess.logger.Info("reply_sent", "bytes", len(payload))
	sess.pause(s.opts.EchoSettle)
	return nil
}
