package tcp

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
	Backlog        int
	ReadBuffer     int           // size of the single request read
	EchoSettle     time.Duration // pause after a default echo before closing
	TriggerPort    int           // port dialled back on the peer by #TRIGGER_TCP_CLIENT:
	TriggerRounds  int
	TriggerTimeout time.Duration // dial and per-round I/O limit for the trigger client
	AcceptRate     float64       // accepted connections per second, 0 = unlimited
}

// OptionsFromConfig maps the TCP_* settings onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Backlog:        cfg.TCPBacklog,
		ReadBuffer:     cfg.TCPReadBuffer,
		EchoSettle:     cfg.TCPEchoSettle,
		TriggerPort:    cfg.TCPTriggerPort,
		TriggerRounds:  cfg.TCPTriggerRounds,
		TriggerTimeout: cfg.TCPTriggerTimeout,
		AcceptRate:     cfg.TCPAcceptRate,
	}
}

// echo-until-closed reads in chunks of this size after the first request
const echoChunkSize = config.MaxReadBuffer

// Handler serves one request on a session.
type Handler func(s *Session, payload []byte) error

// TCPServer is the sequential TCP command fixture: one connection, one
// request, one reply per accept.
type TCPServer struct {
	Addr    string
	opts    Options
	table   command.Table[Handler]
	journal journal.Recorder
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewServer creates the fixture. rec may be nil.
func NewServer(addr string, opts Options, rec journal.Recorder) *TCPServer {
	if opts.ReadBuffer <= 0 || opts.ReadBuffer > config.MaxReadBuffer {
		opts.ReadBuffer = 1024
	}
	if opts.TriggerPort < 1 {
		opts.TriggerPort = 7
	}
	if opts.TriggerRounds < 1 {
		opts.TriggerRounds = 2
	}
	if rec == nil {
		rec = journal.Nop{}
	}

	limit := rate.Inf
	if opts.AcceptRate > 0 {
		limit = rate.Limit(opts.AcceptRate)
	}

	s := &TCPServer{
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
func (s *TCPServer) WithLogger(logger *slog.Logger) *TCPServer {
	s.logger = logger
	return s
}

// commands is the dispatch table in precedence order. Reordering it changes
// which handler a payload gets.
func (s *TCPServer) commands() command.Table[Handler] {
	return command.Table[Handler]{
		{Kind: command.ReplyBoundPort, Match: command.HasPrefix(command.PrefixReplyBoundPort), Handle: s.replyBoundPort},
		{Kind: command.EchoUntilClosed, Match: command.FirstByte(command.EchoLoopMarker), Handle: s.echoUntilClosed},
		{Kind: command.TriggerTCPClient, Match: command.HasPrefix(command.PrefixTriggerTCPClient), Handle: s.triggerClient},
		{Kind: command.Default, Match: command.Always, Handle: s.echoOnce},
	}
}

// Listen opens the fixture socket with the configured backlog.
func (s *TCPServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP fixture, error: %w", err)
	}
	if err := setBacklog(ln, s.opts.Backlog); err != nil {
		s.logger.Warn("listen_backlog_not_applied",
			"backlog", s.opts.Backlog,
			"error", err,
		)
	}
	return ln, nil
}

// ListenAndServe listens on Addr and serves until ctx is cancelled.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln one at a time. The listener is closed when
// Serve returns or ctx is cancelled; cancellation returns nil.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("tcp_fixture_listening",
		"addr", ln.Addr().String(),
		"commands", s.table.Kinds(),
	)

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("tcp fixture listener closed: %w", err)
			}
			s.logger.Error("accept_failed", "error", err)
			continue
		}
		s.handleConnection(ctx, conn)
	}

	s.logger.Info("tcp_fixture_stopped", "addr", ln.Addr().String())
	return nil
}

// handleConnection runs the lifecycle of a single session: read once,
// dispatch, close.
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess := newSession(ctx, conn, s)
	sess.logger.Info("client_connected")

	buf := make([]byte, s.opts.ReadBuffer)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && !isClosed(err) {
			sess.logger.Warn("client_read_error", "error", err)
		} else {
			sess.logger.Info("no_data_received")
		}
		return
	}
	payload := buf[:n]

	rule, _ := s.table.Dispatch(payload)
	sess.exchange.Command = rule.Kind
	sess.exchange.BytesIn = n
	sess.logger.Info("request_received",
		"command", rule.Kind,
		"bytes", n,
	)

	herr := rule.Handle(sess, payload)
	sess.exchange.Finish(herr)
	if herr != nil {
		sess.logger.Warn("command_failed",
			"command", rule.Kind,
			"error", herr,
		)
	}
	s.record(ctx, sess.exchange)
	sess.logger.Info("socket_closed",
		"bytes_out", sess.exchange.BytesOut,
		"duration", sess.exchange.Duration,
	)
}

func (s *TCPServer) record(ctx context.Context, ex *journal.Exchange) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.journal.Record(rctx, *ex); err != nil {
		s.logger.Warn("journal_record_failed",
			"exchange_id", ex.ID,
			"error", err,
		)
	}
}
