package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"netfixture/internal/command"
	"netfixture/internal/config"
	"netfixture/internal/journal"
)

// Options tunes the command handlers.
type Options struct {
	AltReplyPort  int           // destination port for #REPLY_DIFF_PORT:
	ReplyCount    int           // datagrams sent for #REPLY5:
	ReplyInterval time.Duration // pause between #REPLY5: datagrams
	IngressRate   float64       // datagrams per second accepted, 0 = unlimited
}

// OptionsFromConfig maps the UDP_* settings onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AltReplyPort:  cfg.UDPAltReplyPort,
		ReplyCount:    cfg.UDPReplyCount,
		ReplyInterval: cfg.UDPReplyInterval,
		IngressRate:   cfg.UDPIngressRate,
	}
}

// Handler answers one datagram.
type Handler func(d *Datagram) error

// UDPServer is the UDP command fixture. It handles one datagram per loop
// iteration and keeps no state between them.
type UDPServer struct {
	Addr    string
	opts    Options
	table   command.Table[Handler]
	journal journal.Recorder
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewServer creates the fixture. rec may be nil.
func NewServer(addr string, opts Options, rec journal.Recorder) *UDPServer {
	if opts.ReplyCount < 1 {
		opts.ReplyCount = 5
	}
	if opts.AltReplyPort < 1 {
		opts.AltReplyPort = 60000
	}
	if rec == nil {
		rec = journal.Nop{}
	}

	limit := rate.Inf
	if opts.IngressRate > 0 {
		limit = rate.Limit(opts.IngressRate)
	}

	s := &UDPServer{
		Addr:    addr,
		opts:    opts,
		journal: rec,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default(),
	}
	s.table = s.commands()
	return s
}

// WithLogger replaces the default logger.
func (s *UDPServer) WithLogger(logger *slog.Logger) *UDPServer {
	s.logger = logger
	return s
}

// commands is the dispatch table in precedence order.
func (s *UDPServer) commands() command.Table[Handler] {
	return command.Table[Handler]{
		{Kind: command.ReplyFive, Match: command.HasPrefix(command.PrefixReplyFive), Handle: s.replyMany},
		{Kind: command.ReplyDiffPort, Match: command.HasPrefix(command.PrefixReplyDiffPort), Handle: s.replyDiffPort},
		{Kind: command.Echo, Match: command.HasPrefix(command.PrefixEcho), Handle: s.echo},
		{Kind: command.Default, Match: command.Always, Handle: s.echo},
	}
}

// Listen binds the fixture socket.
func (s *UDPServer) Listen() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}
	return conn, nil
}

// ListenAndServe binds Addr and serves until ctx is cancelled.
func (s *UDPServer) ListenAndServe(ctx context.Context) error {
	conn, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx is cancelled, which closes conn
// and returns nil.
func (s *UDPServer) Serve(ctx context.Context, conn *net.UDPConn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("udp_fixture_listening",
		"addr", conn.LocalAddr().String(),
		"commands", s.table.Kinds(),
	)

	buffer := make([]byte, config.MaxReadBuffer)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("udp fixture socket closed: %w", err)
			}
			s.logger.Error("udp_read_error", "error", err)
			continue
		}
		if n == 0 || addr == nil {
			s.logger.Debug("empty_datagram_skipped")
			continue
		}
		if !s.limiter.Allow() {
			s.logger.Warn("datagram_dropped_rate_limited",
				"remote_addr", addr.String(),
				"bytes", n,
			)
			continue
		}
		s.handleDatagram(ctx, conn, addr, buffer[:n])
	}

	s.logger.Info("udp_fixture_stopped", "addr", conn.LocalAddr().String())
	return nil
}

func (s *UDPServer) handleDatagram(ctx context.Context, conn *net.UDPConn, source *net.UDPAddr, payload []byte) {
	d := newDatagram(ctx, conn, source, payload, s.logger)

	rule, _ := s.table.Dispatch(payload)
	d.exchange.Command = rule.Kind
	d.logger.Info("bytes_received",
		"command", rule.Kind,
		"bytes", len(payload),
	)

	err := rule.Handle(d)
	d.exchange.Finish(err)
	if err != nil {
		d.logger.Warn("command_failed",
			"command", rule.Kind,
			"error", err,
		)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.journal.Record(rctx, *d.exchange); err != nil {
		s.logger.Warn("journal_record_failed",
			"exchange_id", d.exchange.ID,
			"error", err,
		)
	}
}
