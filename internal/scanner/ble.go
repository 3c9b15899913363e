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

const (
	adTypeManufacturerSpecific = 0xFF

	// buttonTagIdentifier is the generic button-tag manufacturer
	// identifier spec.md §4.6 names.
	buttonTagIdentifier = "0000000000000000"
	// batteryTagIdentifier prefixes a battery-tag advertisement; the
	// byte immediately following it is the battery voltage reading.
	batteryTagIdentifier = "05C6"

	bleBufferCapacity = 256

	// scanIntervalUnitMs is the duration of one HCI LE scan
	// interval/window unit (0.625ms), used to convert
	// config.Tunable.ScanIntervalMs into the units
	// hci.Controller.SetScanParameters expects.
	scanIntervalUnitMs = 0.625

	// reconfigPollInterval bounds how long a live Reconfig of the scan
	// interval (spec.md §4.8) takes to reach the running scan loop.
	reconfigPollInterval = 5 * time.Second
)

// BLE drives one HCI dongle's passive LE scan and the classifier task
// that drains the temporary advertisement buffer it feeds, per spec.md
// §4.6's two-stage pipeline.
type BLE struct {
	ctrl  *hci.Controller
	store *sighting.Store
	cfg   *config.Config
	log   *logrus.Entry

	buf *bleBuffer

	intervalUnits uint16
	windowUnits   uint16
}

// NewBLE builds a BLE scanner bound to an already-open controller.
// intervalUnits/windowUnits are in 0.625ms units, matching
// hci.Controller.SetScanParameters.
func NewBLE(ctrl *hci.Controller, store *sighting.Store, cfg *config.Config, intervalUnits, windowUnits uint16, log *logrus.Entry) *BLE {
	return &BLE{
		ctrl:          ctrl,
		store:         store,
		cfg:           cfg,
		log:           log,
		buf:           newBLEBuffer(bleBufferCapacity),
		intervalUnits: intervalUnits,
		windowUnits:   windowUnits,
	}
}

// Run configures passive scanning and feeds the temporary buffer from
// controller events until ctx is cancelled. It does not classify
// advertisements itself — call RunClassifier concurrently to drain the
// buffer into the sighting store.
//
// The scan interval honors config.Tunable.ScanIntervalMs: a Reconfig
// packet (spec.md §4.8) that changes it is picked up on the next
// reconfigPollInterval tick, which disables and re-enables scanning
// with the new parameters — the controller only accepts
// SetScanParameters while scanning is disabled.
func (b *BLE) Run(ctx context.Context) error {
	activeInterval := b.effectiveIntervalUnits()
	if err := b.ctrl.SetScanParameters(activeInterval, b.windowUnits, 2*time.Second); err != nil {
		return err
	}
	if err := b.ctrl.SetScanEnable(true, false, 2*time.Second); err != nil {
		return err
	}
	defer func() {
		_ = b.ctrl.SetScanEnable(false, false, 2*time.Second)
	}()

	ticker := time.NewTicker(reconfigPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if next := b.effectiveIntervalUnits(); next != activeInterval {
				if err := b.applyScanInterval(next); err != nil {
					b.log.WithError(err).Warn("failed to apply reconfigured scan interval")
					continue
				}
				activeInterval = next
			}
		case ev, ok := <-b.ctrl.Events():
			if !ok {
				return nil
			}
			if ev.Kind != hci.EventLEAdvertisement {
				continue
			}
			adv := ev.LEAdvertisement
			if b.buf.push(bleSighting{
				Address: formatAddress(adv.Address),
				Payload: adv.Data,
				RSSI:    adv.RSSI,
			}) {
				b.log.Warn("temporary BLE buffer full, dropping advertisement")
			}
		}
	}
}

// effectiveIntervalUnits returns the live config's scan interval in
// 0.625ms units. config.Parse starts ScanIntervalMs at 10ms, so the
// constructor's intervalUnits is used only when the config holds no
// positive interval.
func (b *BLE) effectiveIntervalUnits() uint16 {
	if ms := b.cfg.Tunable().ScanIntervalMs; ms > 0 {
		return scanIntervalUnits(ms)
	}
	return b.intervalUnits
}

// applyScanInterval disables scanning, installs newIntervalUnits, and
// re-enables scanning, the sequence the controller requires to change
// scan parameters while a scan is already running.
func (b *BLE) applyScanInterval(newIntervalUnits uint16) error {
	if err := b.ctrl.SetScanEnable(false, false, 2*time.Second); err != nil {
		return err
	}
	if err := b.ctrl.SetScanParameters(newIntervalUnits, b.windowUnits, 2*time.Second); err != nil {
		return err
	}
	if err := b.ctrl.SetScanEnable(true, false, 2*time.Second); err != nil {
		return err
	}
	b.log.WithField("interval_units", newIntervalUnits).Info("applied reconfigured scan interval")
	return nil
}

// scanIntervalUnits converts a millisecond interval to 0.625ms units,
// clamped to uint16's range.
func scanIntervalUnits(ms int) uint16 {
	units := int(float64(ms)/scanIntervalUnitMs + 0.5)
	if units < 1 {
		return 1
	}
	if units > 0xFFFF {
		return 0xFFFF
	}
	return uint16(units)
}

// RunClassifier drains the temporary buffer, admitting recognized
// advertisements into the sighting store (spec.md §4.6). It returns
// when ctx is cancelled; in practice it is run concurrently with Run
// for the life of the scanner task.
func (b *BLE) RunClassifier(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-b.buf.ch:
			b.classify(s)
		}
	}
}

func (b *BLE) classify(s bleSighting) {
	tunable := b.cfg.Tunable()
	if s.RSSI <= tunable.ScanRSSICoverage {
		return
	}
	if !MatchesPrefix(s.Address, tunable.MACPrefixList) {
		return
	}

	buttonPressed, hasBattery, batteryVoltage, matched := classifyPayload(s.Payload)
	if !matched {
		return
	}
	if err := b.store.ObserveBLE(s.Address, s.RSSI, buttonPressed, hasBattery, batteryVoltage, s.Payload); err != nil {
		b.log.WithError(err).WithField("addr", s.Address).Warn("observe_ble failed")
	}
}

// classifyPayload implements spec.md §4.6's two recognized cases: a
// button-tag identifier admitted with is_button_pressed=1, and a
// battery-tag identifier whose trailing hex byte is the battery
// voltage. Advertisements with no manufacturer-specific element, or
// whose identifier matches neither case, are not admitted.
func classifyPayload(data []byte) (buttonPressed, hasBattery bool, batteryVoltage uint8, matched bool) {
	mfg, ok := manufacturerSpecificData(data)
	if !ok {
		return false, false, 0, false
	}
	hexStr := strings.ToUpper(hex.EncodeToString(mfg))

	if strings.Contains(hexStr, buttonTagIdentifier) {
		return true, false, 0, true
	}
	if idx := strings.Index(hexStr, batteryTagIdentifier); idx >= 0 {
		start := idx + len(batteryTagIdentifier)
		if start+2 <= len(hexStr) {
			if b, err := hex.DecodeString(hexStr[start : start+2]); err == nil && len(b) == 1 {
				return false, true, b[0], true
			}
		}
	}
	return false, false, 0, false
}

// manufacturerSpecificData scans a sequence of AD structures
// (length-prefixed TLVs, as carried in an LE Advertising Report) for
// the Manufacturer Specific Data element and returns its payload.
func manufacturerSpecificData(data []byte) ([]byte, bool) {
	off := 0
	for off < len(data) {
		length := int(data[off])
		if length == 0 || off+1+length > len(data) {
			break
		}
		adType := data[off+1]
		adData := data[off+2 : off+1+length]
		if adType == adTypeManufacturerSpecific {
			return adData, true
		}
		off += 1 + length
	}
	return nil, false
}
