package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"netfixture/internal/command"
	"netfixture/internal/journal"
)

// TCPFixtureTestSuite runs the fixture on a loopback port for every test
type TCPFixtureTestSuite struct {
	suite.Suite
	server     *TCPServer
	memory     *journal.Memory
	addr       string
	cancel     context.CancelFunc
	done       chan error
	options    Options
	listenHost string
	dialHost   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Backlog:        5,
		ReadBuffer:     1024,
		EchoSettle:     50 * time.Millisecond,
		TriggerPort:    7,
		TriggerRounds:  2,
		TriggerTimeout: 2 * time.Second,
	}
}

func (s *TCPFixtureTestSuite) SetupTest() {
	s.options = testOptions()
	s.listenHost = "127.0.0.1"
	s.dialHost = "127.0.0.1"
}

// start launches the fixture with the current options
func (s *TCPFixtureTestSuite) start() {
	s.memory = journal.NewMemory(32)
	s.server = NewServer(net.JoinHostPort(s.listenHost, "0"), s.options, s.memory).WithLogger(discardLogger())

	ln, err := s.server.Listen()
	s.Require().NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	s.addr = net.JoinHostPort(s.dialHost, strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- s.server.Serve(ctx, ln)
	}()
}

func (s *TCPFixtureTestSuite) TearDownTest() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.Fail("fixture did not stop")
	}
	s.cancel = nil
}

func (s *TCPFixtureTestSuite) dial() net.Conn {
	conn, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
	s.Require().NoError(err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// roundTrip sends payload and reads until the fixture closes the connection
func (s *TCPFixtureTestSuite) roundTrip(payload []byte) []byte {
	conn := s.dial()
	defer conn.Close()

	_, err := conn.Write(payload)
	s.Require().NoError(err)
	reply, err := io.ReadAll(conn)
	s.Require().NoError(err)
	return reply
}

func (s *TCPFixtureTestSuite) TestDefaultEchoIdentity() {
	s.start()

	payloads := [][]byte{
		[]byte("hello fixture"),
		[]byte("#UNKNOWN_COMMAND:abc"),
		[]byte("#REPLY5:tcp does not know this one"),
		{0x01, 0x00, 0xff, 0x10},
	}
	for _, p := range payloads {
		s.Equal(p, s.roundTrip(p))
	}

	recent := s.memory.Recent(0)
	s.Require().Len(recent, len(payloads))
	for _, ex := range recent {
		s.Equal(command.Default, ex.Command)
		s.Equal(1, ex.Replies)
	}
}

func (s *TCPFixtureTestSuite) TestDefaultEchoSettlesBeforeClose() {
	s.options.EchoSettle = 200 * time.Millisecond
	s.start()

	start := time.Now()
	reply := s.roundTrip([]byte("settle"))
	s.Equal([]byte("settle"), reply)
	s.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
}

func (s *TCPFixtureTestSuite) TestReplyBoundPort() {
	s.start()

	conn := s.dial()
	defer conn.Close()
	localPort := conn.LocalAddr().(*net.TCPAddr).Port

	_, err := conn.Write([]byte(command.PrefixReplyBoundPort))
	s.Require().NoError(err)
	reply, err := io.ReadAll(conn)
	s.Require().NoError(err)

	port, err := strconv.Atoi(string(reply))
	s.Require().NoError(err)
	s.Equal(localPort, port)
}

func (s *TCPFixtureTestSuite) TestEchoUntilClosed() {
	s.start()

	conn := s.dial()
	first := []byte("\x00hello")
	_, err := conn.Write(first)
	s.Require().NoError(err)

	got := make([]byte, len(first))
	_, err = io.ReadFull(conn, got)
	s.Require().NoError(err)
	s.Equal(first, got)

	for _, chunk := range []string{"second", "third chunk"} {
		_, err := conn.Write([]byte(chunk))
		s.Require().NoError(err)
		got := make([]byte, len(chunk))
		_, err = io.ReadFull(conn, got)
		s.Require().NoError(err)
		s.Equal(chunk, string(got))
	}

	// half-close: the fixture sees EOF, ends the loop and closes its side
	s.Require().NoError(conn.(*net.TCPConn).CloseWrite())
	rest, err := io.ReadAll(conn)
	s.Require().NoError(err)
	s.Empty(rest)
	conn.Close()

	// the accept loop resumes
	s.Equal([]byte("after loop"), s.roundTrip([]byte("after loop")))

	recent := s.memory.Recent(0)
	s.Require().Len(recent, 2)
	loop := recent[1]
	s.Equal(command.EchoUntilClosed, loop.Command)
	s.Equal(3, loop.Replies)
	s.Equal(len(first)+len("second")+len("third chunk"), loop.BytesIn)
	s.Equal(loop.BytesIn, loop.BytesOut)
}

// echoService stands in for the device's port 7 service
type echoService struct {
	ln       net.Listener
	mu       sync.Mutex
	received []byte
	closed   chan struct{}
}

func newEchoService(t *testing.T, host string) *echoService {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)
	e := &echoService{ln: ln, closed: make(chan struct{})}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer close(e.closed)
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				e.mu.Lock()
				e.received = append(e.received, buf[:n]...)
				e.mu.Unlock()
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return e
}

func (e *echoService) port() int {
	return e.ln.Addr().(*net.TCPAddr).Port
}

func (e *echoService) data() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.received)
}

func (s *TCPFixtureTestSuite) TestTriggerClient() {
	echo := newEchoService(s.T(), s.dialHost)
	defer echo.ln.Close()
	s.options.TriggerPort = echo.port()
	s.start()

	payload := []byte(command.PrefixTriggerTCPClient + "go")
	s.Equal(payload, s.roundTrip(payload))

	select {
	case <-echo.closed:
	case <-time.After(3 * time.Second):
		s.FailNow("secondary connection was not closed")
	}
	s.Equal(string(TriggerMessage(1))+string(TriggerMessage(2)), echo.data())

	recent := s.memory.Recent(1)
	s.Require().Len(recent, 1)
	s.Equal(command.TriggerTCPClient, recent[0].Command)
	s.Empty(recent[0].Error)
}

func (s *TCPFixtureTestSuite) TestTriggerClientFailureNotPropagated() {
	// grab a port with nothing listening on it
	ln, err := net.Listen("tcp", net.JoinHostPort(s.dialHost, "0"))
	s.Require().NoError(err)
	s.options.TriggerPort = ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	s.start()

	payload := []byte(command.PrefixTriggerTCPClient)
	s.Equal(payload, s.roundTrip(payload))

	recent := s.memory.Recent(1)
	s.Require().Len(recent, 1)
	s.Equal(command.TriggerTCPClient, recent[0].Command)
	s.Contains(recent[0].Error, "trigger client")

	// the fixture keeps serving
	s.Equal([]byte("still here"), s.roundTrip([]byte("still here")))
}

func (s *TCPFixtureTestSuite) TestEmptyRequestSkipsReply() {
	s.start()

	conn := s.dial()
	conn.Close()

	s.Equal([]byte("next"), s.roundTrip([]byte("next")))

	// only the real request reaches the journal
	s.Len(s.memory.Recent(0), 1)
}

func (s *TCPFixtureTestSuite) TestShutdownClosesOpenSession() {
	s.start()

	conn := s.dial()
	defer conn.Close()
	_, err := conn.Write([]byte("\x00hold"))
	s.Require().NoError(err)
	got := make([]byte, 5)
	_, err = io.ReadFull(conn, got)
	s.Require().NoError(err)

	s.cancel()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.FailNow("fixture did not stop")
	}
	s.cancel = nil

	// a clean EOF or a reset are both fine; the read deadline catches a hang
	start := time.Now()
	io.ReadAll(conn)
	s.Less(time.Since(start), 4*time.Second)

	_, err = net.DialTimeout("tcp", s.addr, 500*time.Millisecond)
	s.Error(err)
}

func (s *TCPFixtureTestSuite) TestAcceptRateLimit() {
	s.options.AcceptRate = 2
	s.options.EchoSettle = 0
	s.start()

	// burst of one: the second and third accepts wait half a second each
	start := time.Now()
	for i := 0; i < 3; i++ {
		s.Equal([]byte("paced"), s.roundTrip([]byte("paced")))
	}
	s.GreaterOrEqual(time.Since(start), 900*time.Millisecond)
}

func (s *TCPFixtureTestSuite) TestShutdownWhileWaitingForAcceptToken() {
	s.options.AcceptRate = 0.1
	s.options.EchoSettle = 0
	s.start()

	// spends the only token; the next accept waits ten seconds
	s.Equal([]byte("first"), s.roundTrip([]byte("first")))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	s.cancel()
	select {
	case err := <-s.done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("fixture did not stop while rate limited")
	}
	s.cancel = nil
	s.Less(time.Since(start), time.Second)
}

func TestTCPFixtureTestSuite(t *testing.T) {
	suite.Run(t, new(TCPFixtureTestSuite))
}

// TCPFixtureIPv6TestSuite repeats every fixture test with the server on the
// IPv6 wildcard and clients on ::1, so peer addresses and the trigger
// dial-back are IPv6.
type TCPFixtureIPv6TestSuite struct {
	TCPFixtureTestSuite
}

func (s *TCPFixtureIPv6TestSuite) SetupSuite() {
	ln, err := net.Listen("tcp", "[::1]:0")
	if err != nil {
		s.T().Skipf("IPv6 loopback not available: %v", err)
	}
	ln.Close()
}

func (s *TCPFixtureIPv6TestSuite) SetupTest() {
	s.TCPFixtureTestSuite.SetupTest()
	s.listenHost = "::"
	s.dialHost = "::1"
}

func (s *TCPFixtureIPv6TestSuite) TestPeerRecordedAsIPv6() {
	s.start()

	s.Equal([]byte("v6"), s.roundTrip([]byte("v6")))

	recent := s.memory.Recent(1)
	s.Require().Len(recent, 1)
	host, _, err := net.SplitHostPort(recent[0].Peer)
	s.Require().NoError(err)
	s.Equal("::1", host)
}

func TestTCPFixtureIPv6TestSuite(t *testing.T) {
	suite.Run(t, new(TCPFixtureIPv6TestSuite))
}

func TestCommandPrecedence(t *testing.T) {
	srv := NewServer("127.0.0.1:0", testOptions(), nil)
	assert.Equal(t, []command.Kind{
		command.ReplyBoundPort,
		command.EchoUntilClosed,
		command.TriggerTCPClient,
		command.Default,
	}, srv.table.Kinds())
}

func TestNewServerDefaults(t *testing.T) {
	srv := NewServer("127.0.0.1:0", Options{ReadBuffer: 1 << 20}, nil)
	assert.Equal(t, 1024, srv.opts.ReadBuffer)
	assert.Equal(t, 7, srv.opts.TriggerPort)
	assert.Equal(t, 2, srv.opts.TriggerRounds)
	assert.IsType(t, journal.Nop{}, srv.journal)
}

func TestTriggerMessage(t *testing.T) {
	assert.Equal(t, "#TRIGGER_TCP_CLIENT: message 2", string(TriggerMessage(2)))
}
