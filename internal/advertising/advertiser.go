package advertising

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OpenISDM/lbeacon/internal/hci"
	"github.com/OpenISDM/lbeacon/internal/lberr"
)

// CommandTimeout bounds how long the advertiser waits for the
// controller to ACK a command before classifying the failure as
// lberr.AdvertiseTimeout; Run retries such a failure and then
// downgrades it to a warning.
const CommandTimeout = 2 * time.Second

// CommandRetries bounds how many times a failing advertising command
// is retried before the failure is downgraded to a warning (spec.md
// §7's AdvertiseTimeout/AdvertiseStatus policy: "retry up to 3 times
// then downgrade to warning; advertiser stays alive").
const CommandRetries = 3

// CommandRetryDelay is the pause between retries, mirroring
// internal/hci's own socket-open retry backoff.
const CommandRetryDelay = time.Second

// Driver owns the advertising dongle for the life of the process: it
// installs advertising parameters and data once, then blocks until ctx
// is cancelled, at which point it disables advertising before
// returning. Grounded on the teacher's linux/advertiser.go, whose
// AdvertiseNameAndServices/StopAdvertising pair this generalizes from
// a GATT peripheral's service UUID list to this firmware's fixed
// coordinate payload.
type Driver struct {
	ctrl *hci.Controller
	log  *logrus.Entry

	intervalUnits uint16
}

// NewDriver wraps an already-open controller. intervalUnits is the
// advertising interval in 0.625ms units (spec.md §6's
// advertise_interval_in_units_0625_ms).
func NewDriver(ctrl *hci.Controller, intervalUnits uint16, log *logrus.Entry) *Driver {
	return &Driver{ctrl: ctrl, intervalUnits: intervalUnits, log: log}
}

// Run installs p as the advertising payload and keeps advertising
// enabled until ctx is cancelled. Each command is retried up to
// CommandRetries times; a command that still fails after exhausting
// its retries is logged as a warning and Run keeps the task alive
// rather than returning an error, so one bad command round never kills
// the advertiser (spec.md §7).
func (d *Driver) Run(ctx context.Context, p Payload) error {
	if err := d.retryCommand("set parameters", func() error {
		return d.ctrl.SetAdvertisingParameters(d.intervalUnits, d.intervalUnits, 0x07, CommandTimeout)
	}); err != nil {
		d.log.WithError(err).Warn("advertising parameters not applied, staying alive")
	}
	if err := d.retryCommand("set data", func() error {
		return d.ctrl.SetAdvertisingData(Encode(p), CommandTimeout)
	}); err != nil {
		d.log.WithError(err).Warn("advertising data not applied, staying alive")
	}
	if err := d.retryCommand("enable", func() error {
		return d.ctrl.SetAdvertiseEnable(true, CommandTimeout)
	}); err != nil {
		d.log.WithError(err).Warn("advertising not enabled, staying alive")
	} else {
		d.log.Info("advertising enabled")
	}

	<-ctx.Done()

	if err := d.ctrl.SetAdvertiseEnable(false, CommandTimeout); err != nil {
		d.log.WithError(err).Warn("failed to disable advertising during shutdown")
	}
	return lberr.New(lberr.Shutdown, "advertising.Run", nil)
}

// UpdateData replaces the live advertising payload without touching
// parameters or the enable flag. The supervisor does not call it: the
// coordinates are static configuration.
func (d *Driver) UpdateData(p Payload) error {
	return d.retryCommand("update data", func() error {
		return d.ctrl.SetAdvertisingData(Encode(p), CommandTimeout)
	})
}

// retryCommand runs fn once and then retries it up to CommandRetries
// more times, pausing CommandRetryDelay between attempts, and returns
// the last classified error if every attempt failed.
func (d *Driver) retryCommand(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= CommandRetries+1; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt <= CommandRetries {
			d.log.WithError(err).WithField("attempt", attempt).Warnf("advertising %s failed, retrying", op)
			time.Sleep(CommandRetryDelay)
		}
	}
	return classify(err, "advertising.Run: "+op)
}

func classify(err error, op string) error {
	if errors.Is(err, hci.ErrTimeout) {
		return lberr.New(lberr.AdvertiseTimeout, op, err)
	}
	return lberr.New(lberr.AdvertiseStatus, op, err)
}
