package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"
)

var errTriggerClient = errors.New("trigger client")

// TriggerMessage is the labelled message sent on round i (1-based) of the
// secondary connection.
func TriggerMessage(round int) []byte {
	return []byte(fmt.Sprintf("#TRIGGER_TCP_CLIENT: message %d", round))
}

// runTriggerClient dials TriggerPort on the session peer's address and runs
// TriggerRounds send/receive rounds. It returns the number of completed
// rounds.
func (s *TCPServer) runTriggerClient(sess *Session) (int, error) {
	peer := sess.Peer()
	target := &net.TCPAddr{IP: peer.IP, Port: s.opts.TriggerPort, Zone: peer.Zone}

	dialer := net.Dialer{Timeout: s.opts.TriggerTimeout}
	conn, err := dialer.DialContext(sess.ctx, "tcp", target.String())
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	log := sess.logger.With("trigger_addr", target.String())
	log.Info("trigger_client_connected")

	buf := make([]byte, echoChunkSize)
	for round := 1; round <= s.opts.TriggerRounds; round++ {
		if s.opts.TriggerTimeout > 0 {
			conn.SetDeadline(time.Now().Add(s.opts.TriggerTimeout))
		}

		msg := TriggerMessage(round)
		if _, err := conn.Write(msg); err != nil {
			return round - 1, fmt.Errorf("round %d send: %w", round, err)
		}
		n, err := conn.Read(buf)
		if err != nil {
			return round - 1, fmt.Errorf("round %d receive: %w", round, err)
		}
		log.Info("trigger_round_reply",
			"round", round,
			"bytes", n,
			"matches_sent", bytes.Equal(buf[:n], msg),
		)
	}
	return s.opts.TriggerRounds, nil
}
