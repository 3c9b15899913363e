package metrics

import (
	"strings"
	"testing"

	"github.com/OpenISDM/lbeacon/internal/sighting"
)

func TestDropHookIncrementsCorrectCounter(t *testing.T) {
	r := NewRegistry()
	hook := r.DropHook()

	hook(sighting.DropStoreFull)
	hook(sighting.DropQueueOverflow)

	out, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `lbeacon_sightings_dropped_total{reason="store_full"} 1`) {
		t.Fatalf("missing store_full counter in output:\n%s", out)
	}
	if !strings.Contains(out, `lbeacon_tracked_queue_overflow_total 1`) {
		t.Fatalf("missing queue overflow counter in output:\n%s", out)
	}
}

func TestGatewayCounters(t *testing.T) {
	r := NewRegistry()
	r.GatewayJoins.Inc()
	r.GatewayJoins.Inc()
	r.GatewayReconnects.Inc()

	out, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "lbeacon_gateway_joins_total 2") {
		t.Fatalf("missing joins counter:\n%s", out)
	}
	if !strings.Contains(out, "lbeacon_gateway_reconnects_total 1") {
		t.Fatalf("missing reconnects counter:\n%s", out)
	}
}
