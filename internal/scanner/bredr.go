// Package scanner implements the BR/EDR inquiry loop and the BLE
// scan/classify pipeline of spec.md §4.5/§4.6. Both producers write
// into a sighting.Store; the BLE path additionally drains a temporary
// advertisement buffer through a classifier task, mirroring the
// two-stage pipeline spec.md §3 describes.
package scanner

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenISDM/lbeacon/internal/config"
	"github.com/OpenISDM/lbeacon/internal/hci"
	"github.com/OpenISDM/lbeacon/internal/sighting"
)

// InquiryLAP is the General/Unlimited Inquiry Access Code spec.md
// §4.5 pins.
var InquiryLAP = [3]byte{0x33, 0x8b, 0x9e}

// InquiryLength is the inquiry duration parameter (~38.4s, spec.md
// §4.5's "length parameter 0x30").
const InquiryLength = 0x30

// InquiryMaxResponses of 0 means unlimited, matching the teacher's own
// default for open-ended Inquiry calls.
const InquiryMaxResponses = 0x00

// BREDR drives one HCI dongle's classic-Bluetooth inquiry loop.
type BREDR struct {
	ctrl  *hci.Controller
	store *sighting.Store
	cfg   *config.Config
	log   *logrus.Entry
}

// NewBREDR builds a BR/EDR scanner bound to an already-open controller.
func NewBREDR(ctrl *hci.Controller, store *sighting.Store, cfg *config.Config, log *logrus.Entry) *BREDR {
	return &BREDR{ctrl: ctrl, store: store, cfg: cfg, log: log}
}

// Run restarts HCI_Inquiry every time EVT_INQUIRY_COMPLETE fires, until
// ctx is cancelled (spec.md §4.5: "Must exit promptly on shutdown
// signal"). The inquiry event filter is installed on the device by the
// caller before the controller is built, not by Run.
func (b *BREDR) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			_ = b.ctrl.InquiryCancel(time.Second)
			return ctx.Err()
		default:
		}

		if err := b.ctrl.Inquiry(InquiryLAP, InquiryLength, InquiryMaxResponses); err != nil {
			b.log.WithError(err).Warn("inquiry command failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if !b.drainUntilComplete(ctx) {
			return ctx.Err()
		}
	}
}

// drainUntilComplete consumes controller events until
// EVT_INQUIRY_COMPLETE, admitting qualifying results into the store.
// It returns false if ctx was cancelled first.
func (b *BREDR) drainUntilComplete(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-b.ctrl.Events():
			if !ok {
				return false
			}
			switch ev.Kind {
			case hci.EventInquiryComplete:
				return true
			case hci.EventInquiryResult:
				b.handleResult(ev.InquiryResult)
			}
		}
	}
}

func (b *BREDR) handleResult(r *hci.InquiryResultEvent) {
	addr := formatAddress(r.Address)
	if !r.WithRSSI {
		b.log.WithField("addr", addr).Debug("inquiry result without RSSI, not admitted")
		return
	}

	tunable := b.cfg.Tunable()
	if r.RSSI <= tunable.ScanRSSICoverage {
		return
	}
	if !MatchesPrefix(addr, tunable.MACPrefixList) {
		return
	}
	if err := b.store.ObserveBR(addr, r.RSSI); err != nil {
		b.log.WithError(err).WithField("addr", addr).Warn("observe_br failed")
	}
}

// formatAddress renders an HCI little-endian-on-the-wire address
// array as the canonical "AA:BB:CC:DD:EE:FF" big-endian display form.
func formatAddress(raw [6]byte) string {
	buf := make([]byte, 0, 17)
	for i := 5; i >= 0; i-- {
		buf = append(buf, []byte(hex.EncodeToString(raw[i:i+1]))...)
		if i != 0 {
			buf = append(buf, ':')
		}
	}
	return strings.ToUpper(string(buf))
}
