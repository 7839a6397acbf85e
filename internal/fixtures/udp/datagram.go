package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"netfixture/internal/journal"
)

// Datagram is one received request and the socket to answer it on.
type Datagram struct {
	ctx      context.Context
	conn     *net.UDPConn
	Source   *net.UDPAddr
	Payload  []byte
	exchange *journal.Exchange
	logger   *slog.Logger
}

func newDatagram(ctx context.Context, conn *net.UDPConn, source *net.UDPAddr, payload []byte, logger *slog.Logger) *Datagram {
	ex := journal.NewExchange(journal.UDP, source.String())
	ex.BytesIn = len(payload)
	return &Datagram{
		ctx:      ctx,
		conn:     conn,
		Source:   source,
		Payload:  payload,
		exchange: ex,
		logger: logger.With(
			"exchange_id", ex.ID,
			"remote_addr", source.IP.String(),
			"remote_port", source.Port,
		),
	}
}

// sendTo writes the payload to dst from the fixture socket.
func (d *Datagram) sendTo(dst *net.UDPAddr) error {
	n, err := d.conn.WriteToUDP(d.Payload, dst)
	d.exchange.BytesOut += n
	if err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	d.exchange.Replies++
	return nil
}

// pause sleeps for dur and reports false if the fixture stopped meanwhile.
func (d *Datagram) pause(dur time.Duration) bool {
	if dur <= 0 {
		return d.ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}
