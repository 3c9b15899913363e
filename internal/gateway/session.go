package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenISDM/lbeacon/internal/config"
	"github.com/OpenISDM/lbeacon/internal/lberr"
	"github.com/OpenISDM/lbeacon/internal/pktqueue"
	"github.com/OpenISDM/lbeacon/internal/sighting"
)

// State names the gateway session's protocol state (spec.md §4.8).
type State int

const (
	StateInitial State = iota
	StateJoining
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

const (
	// JoinTimeout bounds how long the session waits for a JoinAck
	// before logging, backing off, and retrying (spec.md §4.8).
	JoinTimeout = 30 * time.Second
	// JoinBackoff is the wait before a retried JoinRequest.
	JoinBackoff = 30 * time.Second
	// ReadTimeout is SO_RCVTIMEO while Ready (spec.md §5).
	ReadTimeout = 5 * time.Second
	// IdleTimeout is INTERVAL_RECEIVE_MESSAGE_FROM_GATEWAY_IN_SEC
	// (spec.md §4.8/§6).
	IdleTimeout = 30 * time.Second
	// SendTimeout is SO_SNDTIMEO (spec.md §5).
	SendTimeout = 2 * time.Second
	// ShutdownDrainBudget bounds draining the outbound queue on
	// ShuttingDown (spec.md §4.8).
	ShutdownDrainBudget = time.Second

	// MaxObjectsPerDrain is the drain_for_upload(max_n) bound spec.md
	// §4.8's PollTrackedObjects handler uses.
	MaxObjectsPerDrain = 200
)

// udpConn is the subset of *net.UDPConn the session needs, so tests can
// substitute a loopback pipe instead of a real socket.
type udpConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session runs the UDP join/poll/upload/health protocol loop against
// one gateway (spec.md §4.8). Grounded on
// _examples/original_source/src/Communication.c's send_join_request
// and the teacher's own request/response dispatch in server_linux.go.
type Session struct {
	conn       udpConn
	gatewayUDP *net.UDPAddr

	cfg   *config.Config
	store *sighting.Store
	log   *logrus.Entry

	uuid      string
	healthLog HealthLogReader
	outQueue  *pktqueue.Queue

	state        State
	assignedAddr string
	lastRecv     time.Time

	now func() time.Time

	joinTimeout  time.Duration
	joinBackoff  time.Duration
	readTimeout  time.Duration
	idleTimeout  time.Duration
	sendTimeout  time.Duration
	drainBudget  time.Duration

	onJoin      func()
	onReconnect func()
}

// Option configures a Session at construction.
type Option func(*Session)

// WithClock overrides the wall-clock source, used by tests to drive
// the idle-reconnect scenario deterministically.
func WithClock(fn func() time.Time) Option {
	return func(s *Session) { s.now = fn }
}

// WithTimeouts overrides the protocol's default timeouts, used by
// tests to exercise JoinTimeout/backoff/idle transitions without
// waiting on the real-world defaults.
func WithTimeouts(join, backoff, read, idle, send, drain time.Duration) Option {
	return func(s *Session) {
		s.joinTimeout = join
		s.joinBackoff = backoff
		s.readTimeout = read
		s.idleTimeout = idle
		s.sendTimeout = send
		s.drainBudget = drain
	}
}

// WithJoinHook registers a callback invoked every time a JoinRequest
// is sent, for the metrics join counter.
func WithJoinHook(fn func()) Option {
	return func(s *Session) { s.onJoin = fn }
}

// WithReconnectHook registers a callback invoked every time the
// session returns to Joining due to idle timeout or a transport error
// (on receive while Ready, or on any send, including a failed
// JoinRequest), for the metrics reconnect counter.
func WithReconnectHook(fn func()) Option {
	return func(s *Session) { s.onReconnect = fn }
}

// NewSession builds a Session bound to an already-open UDP socket.
func NewSession(conn *net.UDPConn, gatewayAddr net.IP, gatewayPort uint16, uuid string, cfg *config.Config,
	store *sighting.Store, healthLog HealthLogReader, outQueue *pktqueue.Queue, log *logrus.Entry, opts ...Option) *Session {
	s := &Session{
		conn:       conn,
		gatewayUDP: &net.UDPAddr{IP: gatewayAddr, Port: int(gatewayPort)},
		cfg:        cfg,
		store:      store,
		log:        log,
		uuid:       uuid,
		healthLog:  healthLog,
		outQueue:   outQueue,
		state:      StateInitial,
		now:        time.Now,
		joinTimeout: JoinTimeout,
		joinBackoff: JoinBackoff,
		readTimeout: ReadTimeout,
		idleTimeout: IdleTimeout,
		sendTimeout: SendTimeout,
		drainBudget: ShutdownDrainBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session's current protocol state.
func (s *Session) State() State { return s.state }

// AssignedAddr returns the address the gateway assigned on the most
// recent successful join.
func (s *Session) AssignedAddr() string { return s.assignedAddr }

// Run drives the protocol loop until ctx is cancelled, then performs
// the ShuttingDown sequence and returns.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}

		switch s.state {
		case StateInitial:
			s.sendJoin()
			s.state = StateJoining
		case StateJoining:
			s.runJoining(ctx)
		case StateReady:
			s.runReady(ctx)
		}
	}
}

func (s *Session) sendJoin() {
	pkt := EncodeJoinRequest(s.uuid)
	if err := s.send(pkt); err != nil {
		s.log.WithError(err).Warn("failed to send JoinRequest")
		if !isTimeout(err) {
			s.reconnect(fmt.Sprintf("transport error: %v", err))
			return
		}
	}
	if s.onJoin != nil {
		s.onJoin()
	}
}

// runJoining waits up to JoinTimeout for a JoinAck; on denial or
// timeout it backs off JoinBackoff and resends (spec.md §4.8).
func (s *Session) runJoining(ctx context.Context) {
	deadline := s.now().Add(s.joinTimeout)
	for s.now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		b, _, err := s.recv(s.joinTimeout)
		if err != nil {
			break
		}
		typ, err := PacketType(b)
		if err != nil || typ != TypeJoinAck {
			continue
		}
		ack, err := DecodeJoinAck(b)
		if err != nil {
			s.log.WithError(err).Warn("malformed JoinAck")
			continue
		}
		if ack.OK {
			s.assignedAddr = ack.AssignedAddr
			s.lastRecv = s.now()
			s.state = StateReady
			s.log.WithField("assigned_addr", ack.AssignedAddr).Info("joined gateway")
			return
		}
		s.log.Warn("JoinRequest denied by gateway")
		break
	}

	s.sleep(ctx, s.joinBackoff)
	s.sendJoin()
}

// runReady blocks on UDP receive with ReadTimeout and dispatches
// PollTrackedObjects/PollHealthReport/Reconfig, reconnecting when the
// idle window elapses (spec.md §4.8).
func (s *Session) runReady(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	b, _, err := s.recv(s.readTimeout)
	if err != nil {
		if isTimeout(err) {
			if s.now().Sub(s.lastRecv) > s.idleTimeout {
				s.reconnect("idle timeout")
			}
			return
		}
		s.reconnect(fmt.Sprintf("transport error: %v", err))
		return
	}
	s.lastRecv = s.now()

	typ, err := PacketType(b)
	if err != nil {
		return
	}
	switch typ {
	case TypePollTrackedObjects:
		s.handlePollTrackedObjects()
	case TypePollHealthReport:
		s.handlePollHealthReport()
	case TypeReconfig:
		s.handleReconfig(b)
	default:
		s.log.WithField("type", fmt.Sprintf("%#02x", typ)).Warn("unrecognized packet type")
	}
}

func (s *Session) handlePollTrackedObjects() {
	snapshots := s.store.DrainForUpload(MaxObjectsPerDrain)
	for _, pkt := range EncodeTrackedObjectsResp(s.uuid, s.assignedAddr, snapshots) {
		if err := s.send(pkt); err != nil {
			s.log.WithError(err).Warn("failed to send TrackedObjectsResp")
			if !isTimeout(err) {
				s.reconnect(fmt.Sprintf("transport error: %v", err))
				return
			}
		}
	}
}

func (s *Session) handlePollHealthReport() {
	line, err := s.healthLog.LastLine()
	if err != nil {
		s.log.WithError(err).Warn("failed to read health log")
		return
	}
	isError := strings.Contains(line, ErrorMarker)
	if err := s.send(EncodeHealthReportResp(s.uuid, isError, line)); err != nil {
		s.log.WithError(err).Warn("failed to send HealthReportResp")
		if !isTimeout(err) {
			s.reconnect(fmt.Sprintf("transport error: %v", err))
		}
	}
}

func (s *Session) handleReconfig(b []byte) {
	entries, err := DecodeReconfig(b)
	if err != nil {
		s.log.WithError(err).Warn("malformed Reconfig packet")
		return
	}
	for _, e := range entries {
		if err := s.cfg.ApplyReconfig(e.Key, e.Value); err != nil {
			s.log.WithError(err).WithField("key", e.Key).Warn("failed to apply reconfig entry")
		}
	}
}

func (s *Session) reconnect(reason string) {
	s.log.WithField("reason", reason).Info("reconnecting to gateway")
	s.state = StateJoining
	if s.onReconnect != nil {
		s.onReconnect()
	}
}

// shutdown drains the outbound queue with a bounded budget and closes
// the socket (spec.md §4.8's ShuttingDown state).
func (s *Session) shutdown() error {
	s.state = StateShuttingDown
	deadline := s.now().Add(s.drainBudget)
	for s.now().Before(deadline) {
		pkt, err := s.outQueue.Pop()
		if errors.Is(err, pktqueue.ErrEmpty) {
			break
		}
		if err := s.send(pkt.Payload); err != nil {
			s.log.WithError(err).Warn("failed to flush queued packet during shutdown")
		}
	}
	return s.conn.Close()
}

func (s *Session) send(b []byte) error {
	if err := s.conn.SetWriteDeadline(s.now().Add(s.sendTimeout)); err != nil {
		return err
	}
	_, err := s.conn.WriteToUDP(b, s.gatewayUDP)
	if err != nil {
		return lberr.New(lberr.TransportError, "gateway.send", err)
	}
	return nil
}

func (s *Session) recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(s.now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, MaxPacketSize)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
