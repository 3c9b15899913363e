package gateway

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenISDM/lbeacon/internal/config"
	"github.com/OpenISDM/lbeacon/internal/pktqueue"
	"github.com/OpenISDM/lbeacon/internal/sighting"
)

type fakeHealthLog struct{ line string }

func (f fakeHealthLog) LastLine() (string, error) { return f.line, nil }

func newTestSession(t *testing.T, gatewayConn *net.UDPConn, opts ...Option) (*Session, *net.UDPConn) {
	t.Helper()
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	gatewayAddr := gatewayConn.LocalAddr().(*net.UDPAddr)
	cfg, err := config.Parse(strings.NewReader(
		"area_id=A1\ncoordinate_X=0\ncoordinate_Y=0\ncoordinate_Z=0\nlowest_basement_level=0\n" +
			"uuid=00000000000000000000000000000000\nadvertise_dongle_id=0\nadvertise_interval_in_units_0625_ms=160\n" +
			"advertise_rssi_value=-60\nscan_dongle_id=0\nscan_rssi_coverage=-90\ngateway_addr=192.168.1.1\n" +
			"gateway_port=8800\nlocal_client_port=8900\nmac_prefix_list=\n"))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	store := sighting.NewStore(16, 16, 60000)
	outQueue := pktqueue.New(8)
	log := logrus.NewEntry(logrus.New())

	allOpts := append([]Option{
		WithTimeouts(500*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond, 300*time.Millisecond, 500*time.Millisecond, 100*time.Millisecond),
	}, opts...)
	s := NewSession(local, gatewayAddr.IP, uint16(gatewayAddr.Port), "uuid-1", cfg, store, fakeHealthLog{}, outQueue, log, allOpts...)
	return s, local
}

// TestSessionJoinRoundTripScenarioS5 drives spec.md §8's S5: the first
// packet sent must be exactly the JoinRequest, and a JoinAck(OK, addr)
// moves the session to Ready with the assigned address recorded.
func TestSessionJoinRoundTripScenarioS5(t *testing.T) {
	gatewayConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer gatewayConn.Close()

	s, local := newTestSession(t, gatewayConn)
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	buf := make([]byte, MaxPacketSize)
	gatewayConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, clientAddr, err := gatewayConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("gateway did not receive JoinRequest: %v", err)
	}
	got := string(buf[:n])
	want := "0;uuid-1;1.0"
	if got != want {
		t.Fatalf("first packet = %q, want %q", got, want)
	}

	if _, err := gatewayConn.WriteToUDP([]byte("1;OK;10.0.0.5"), clientAddr); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == StateReady {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v, want Ready", s.State())
	}
	if s.AssignedAddr() != "10.0.0.5" {
		t.Fatalf("assigned addr = %q, want 10.0.0.5", s.AssignedAddr())
	}

	cancel()
	wg.Wait()
}

// TestSessionIdleReconnectScenarioS6 drives spec.md §8's S6: once Ready
// and idle past idleTimeout, the session must emit exactly one new
// JoinRequest and return to Joining.
func TestSessionIdleReconnectScenarioS6(t *testing.T) {
	gatewayConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer gatewayConn.Close()

	s, local := newTestSession(t, gatewayConn)
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	buf := make([]byte, MaxPacketSize)
	gatewayConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, clientAddr, err := gatewayConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("gateway did not receive initial JoinRequest: %v", err)
	}
	if _, err := gatewayConn.WriteToUDP([]byte("1;OK;10.0.0.5"), clientAddr); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.State() != StateReady {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != StateReady {
		t.Fatal("session never reached Ready")
	}

	// idleTimeout is 300ms and readTimeout is 200ms in this test's
	// session; waiting past idleTimeout with no further packets forces
	// a reconnect, which resends a JoinRequest.
	gatewayConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := gatewayConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("gateway did not receive reconnect JoinRequest: %v", err)
	}
	if string(buf[:n]) != "0;uuid-1;1.0" {
		t.Fatalf("reconnect packet = %q", string(buf[:n]))
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.State() != StateJoining {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != StateJoining {
		t.Fatalf("state = %v, want Joining", s.State())
	}

	cancel()
	wg.Wait()
}
