package udp

import (
	"net"

	"netfixture/internal/command"
)

// replyMany sends the payload back ReplyCount times with ReplyInterval
// between sends, so the receiver sees duplicates spread over time.
func (s *UDPServer) replyMany(d *Datagram) error {
	for i := 0; i < s.opts.ReplyCount; i++ {
		if i > 0 && !d.pause(s.opts.ReplyInterval) {
			break
		}
		if err := d.sendTo(d.Source); err != nil {
			return err
		}
	}
	d.logger.Info("multireply_sent", "replies", d.exchange.Replies)
	return nil
}

// replyDiffPort answers the source address on AltReplyPort instead of the
// source port.
func (s *UDPServer) replyDiffPort(d *Datagram) error {
	dst := &net.UDPAddr{IP: d.Source.IP, Port: s.opts.AltReplyPort, Zone: d.Source.Zone}
	if err := d.sendTo(dst); err != nil {
		return err
	}
	d.logger.Info("replied_to_alternate_port",
		"port", s.opts.AltReplyPort,
		"text", string(command.Trailing(d.Payload, command.PrefixReplyDiffPort)),
	)
	return nil
}

// echo sends the payload back once. #ECHO: and unknown payloads both land
// here.
func (s *UDPServer) echo(d *Datagram) error {
	if err := d.sendTo(d.Source); err != nil {
		return err
	}
	d.logger.Info("replied", "bytes", len(d.Payload))
	return nil
}
