// Package supervisor implements the process lifecycle of spec.md
// §4.9: single-instance locking, task spawn/join, and signal-driven
// shutdown. Grounded on the teacher's own device.Init/StopAdvertising
// lifecycle (NewDevice acquiring the HCI resource, Init spawning the
// read loop, StopAdvertising/Close tearing it down in reverse), scaled
// up from one device to the whole fleet of long-lived tasks spec.md
// §2 lists.
package supervisor

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/OpenISDM/lbeacon/internal/advertising"
	"github.com/OpenISDM/lbeacon/internal/config"
	"github.com/OpenISDM/lbeacon/internal/gateway"
	"github.com/OpenISDM/lbeacon/internal/hci"
	"github.com/OpenISDM/lbeacon/internal/lberr"
	"github.com/OpenISDM/lbeacon/internal/logging"
	"github.com/OpenISDM/lbeacon/internal/metrics"
	"github.com/OpenISDM/lbeacon/internal/pktqueue"
	"github.com/OpenISDM/lbeacon/internal/scanner"
	"github.com/OpenISDM/lbeacon/internal/sighting"
)

// PidLockPath is the single-instance lock spec.md §4.9/§6 names.
const PidLockPath = "LBeacon.pid"

// ShutdownJoinBudget bounds how long Run waits for tasks to exit once
// shutdown has been signalled (spec.md §4.9).
const ShutdownJoinBudget = 10 * time.Second

// OneShotCycleDuration is how long Run lets tasks run under --once
// before signalling shutdown itself (spec.md §6: "run one scan cycle
// and exit, for tests"). One BR/EDR inquiry (~38.4s) plus margin.
const OneShotCycleDuration = 45 * time.Second

// CleanupInterval is the minimum cleaner cadence spec.md §5 requires
// ("the cleaner runs at least once per second regardless of sighting
// volume").
const CleanupInterval = time.Second

// HealthWriteInterval bounds how often the health-report source file
// is refreshed with the current metrics snapshot (spec.md §4.8's
// PollHealthReport reads whatever this task last wrote).
const HealthWriteInterval = 10 * time.Second

// SlabCapacity and TrackedQueueCapacity size the sighting store;
// spec.md leaves the exact capacities to the implementation.
const (
	SlabCapacity          = 4096
	TrackedQueueCapacity  = 1024
	SilenceTimeoutMs      = 60_000
	HealthLogPath         = "health.log"
	ScanIntervalUnits     = 0x10
	ScanWindowUnits       = 0x10
	OutboundQueueCapacity = 64
)

// Supervisor owns every long-lived task and the shared resources they
// read and write (spec.md §4.9, recast from the legacy globals
// g_config/ready_to_work into one value per spec.md §9's design
// notes).
type Supervisor struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Registry
	store   *sighting.Store
	lock    *flock.Flock

	once bool // --once: run a single cycle and exit, for tests
}

// New builds a Supervisor from a loaded configuration. once mirrors
// the CLI's --once flag (spec.md §6).
func New(cfg *config.Config, once bool) *Supervisor {
	log := logging.New(cfg.Static.AreaID, cfg.Static.LogEnabled)
	reg := metrics.NewRegistry()
	store := sighting.NewStore(SlabCapacity, TrackedQueueCapacity, SilenceTimeoutMs,
		sighting.WithDropHook(reg.DropHook()))
	return &Supervisor{
		cfg:     cfg,
		log:     log,
		metrics: reg,
		store:   store,
		lock:    flock.New(PidLockPath),
		once:    once,
	}
}

// Run acquires the pid lock, spawns every task, and blocks until ctx
// is cancelled (normally by a SIGINT/SIGTERM handler installed by the
// caller), then performs an orderly shutdown. It returns an *lberr.Error
// classifying the outcome, matching the exit codes spec.md §6 defines.
func (s *Supervisor) Run(ctx context.Context) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return lberr.New(lberr.Config, "supervisor.Run", err)
	}
	if !locked {
		return lberr.New(lberr.AlreadyRunning, "supervisor.Run", nil)
	}
	defer s.cleanupExit()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks, err := s.spawnTasks(runCtx)
	if err != nil {
		cancel()
		return err
	}

	if s.once {
		timer := time.NewTimer(OneShotCycleDuration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	} else {
		<-ctx.Done()
	}
	cancel()
	return s.joinTasks(tasks)
}

// task pairs a name (for logging) with the goroutine's done channel,
// in spawn order, so joinTasks can wait on them in reverse.
type task struct {
	name string
	done chan struct{}
}

func (s *Supervisor) spawnTasks(ctx context.Context) ([]task, error) {
	advDev, err := hci.Open(s.cfg.Static.AdvertiseDongleID)
	if err != nil {
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: advertiser dongle", err)
	}
	if err := advDev.SetCommandEventFilter(); err != nil {
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: advertiser filter", err)
	}
	advCtrl := hci.NewController(advDev)

	brDev, err := hci.Open(s.cfg.Static.ScanDongleID)
	if err != nil {
		advCtrl.Close()
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: BR/EDR scanner dongle", err)
	}
	if err := brDev.SetInquiryFilter(); err != nil {
		advCtrl.Close()
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: BR/EDR scanner filter", err)
	}
	brCtrl := hci.NewController(brDev)

	bleDev, err := hci.Open(s.cfg.Static.ScanDongleID)
	if err != nil {
		advCtrl.Close()
		brCtrl.Close()
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: BLE scanner dongle", err)
	}
	if err := bleDev.SetCommandEventFilter(); err != nil {
		advCtrl.Close()
		brCtrl.Close()
		return nil, lberr.New(lberr.DongleUnavailable, "supervisor.spawnTasks: BLE scanner filter", err)
	}
	bleCtrl := hci.NewController(bleDev)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(s.cfg.Static.LocalClientPort)})
	if err != nil {
		advCtrl.Close()
		brCtrl.Close()
		bleCtrl.Close()
		return nil, lberr.New(lberr.TransportError, "supervisor.spawnTasks: gateway socket", err)
	}

	outQueue := pktqueue.New(OutboundQueueCapacity)
	healthLog := gateway.FileHealthLog{Path: HealthLogPath}

	session := gateway.NewSession(conn, s.cfg.Static.GatewayAddr, s.cfg.Static.GatewayPort, s.cfg.Static.UUID,
		s.cfg, s.store, healthLog, outQueue, logging.Component(s.log, s.cfg.Static.AreaID, "gateway"),
		gateway.WithJoinHook(s.metrics.GatewayJoins.Inc),
		gateway.WithReconnectHook(s.metrics.GatewayReconnects.Inc))

	advDriver := advertising.NewDriver(advCtrl, uint16(s.cfg.Static.AdvertiseIntervalIn0625msUnits),
		logging.Component(s.log, s.cfg.Static.AreaID, "advertiser"))
	payload := advertising.Payload{
		X:              float32(s.cfg.Static.CoordinateX),
		Y:              float32(s.cfg.Static.CoordinateY),
		Z:              advertising.BiasLevel(int(s.cfg.Static.CoordinateZ), s.cfg.Static.LowestBasementLevel),
		CalibratedRSSI: s.cfg.Static.AdvertiseRSSIValue,
	}
	if decoded, err := hex.DecodeString(s.cfg.Static.UUID[:8]); err == nil {
		copy(payload.FixedID[:], decoded)
	}

	brScanner := scanner.NewBREDR(brCtrl, s.store, s.cfg, logging.Component(s.log, s.cfg.Static.AreaID, "scanner.bredr"))
	bleScanner := scanner.NewBLE(bleCtrl, s.store, s.cfg, ScanIntervalUnits, ScanWindowUnits,
		logging.Component(s.log, s.cfg.Static.AreaID, "scanner.ble"))

	var tasks []task
	spawn := func(name string, fn func(context.Context) error) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.runTaskWithRecover(name, ctx, fn)
		}()
		tasks = append(tasks, task{name: name, done: done})
	}

	spawn("advertiser", func(ctx context.Context) error { return advDriver.Run(ctx, payload) })
	spawn("scanner.bredr", brScanner.Run)
	spawn("scanner.ble", bleScanner.Run)
	spawn("scanner.ble.classifier", bleScanner.RunClassifier)
	spawn("cleaner", s.runCleaner)
	spawn("health_writer", s.runHealthWriter)
	spawn("gateway", session.Run)

	return tasks, nil
}

// runTaskWithRecover runs fn, converting a panic into a logged error
// so one failing task never crashes the process (spec.md §4.9's
// per-task fault isolation, the same shape as spec.md §7's
// DongleUnavailable policy: fatal to the task, not the supervisor).
func (s *Supervisor) runTaskWithRecover(name string, ctx context.Context, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("task", name).Errorf("task panicked: %v", r)
		}
	}()
	if err := fn(ctx); err != nil && !lberr.Is(err, lberr.Shutdown) && ctx.Err() == nil {
		s.log.WithField("task", name).WithError(err).Error("task exited with error")
	}
}

func (s *Supervisor) runCleaner(ctx context.Context) error {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return lberr.New(lberr.Shutdown, "supervisor.runCleaner", nil)
		case <-ticker.C:
			s.store.Cleanup()
		}
	}
}

// runHealthWriter keeps HealthLogPath populated with the current
// metrics snapshot so gateway.FileHealthLog has something real to
// read on every PollHealthReport (spec.md §4.8): without this task the
// health-report path has a reader but nothing ever produced for it to
// read.
func (s *Supervisor) runHealthWriter(ctx context.Context) error {
	s.writeHealthLog()
	ticker := time.NewTicker(HealthWriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return lberr.New(lberr.Shutdown, "supervisor.runHealthWriter", nil)
		case <-ticker.C:
			s.writeHealthLog()
		}
	}
}

// writeHealthLog renders the current metrics and appends a summary
// status line, which gateway.FileHealthLog.LastLine reads back as the
// HealthReportResp body.
func (s *Supervisor) writeHealthLog() {
	rendered, err := s.metrics.Render()
	if err != nil {
		s.log.WithError(err).Warn("failed to render metrics for health log")
		return
	}
	content := rendered + "INFO: lbeacon healthy\n"
	if err := os.WriteFile(HealthLogPath, []byte(content), 0o644); err != nil {
		s.log.WithError(err).Warn("failed to write health log")
	}
}

// joinTasks waits for every task to finish, in reverse spawn order,
// within ShutdownJoinBudget total (spec.md §4.9).
func (s *Supervisor) joinTasks(tasks []task) error {
	return joinTasksWithBudget(s, tasks, ShutdownJoinBudget)
}

// joinTasksWithBudget is joinTasks with the budget broken out as a
// parameter so tests can exercise the reverse-order/timeout behavior
// without waiting out the real ShutdownJoinBudget.
func joinTasksWithBudget(s *Supervisor, tasks []task, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for i := len(tasks) - 1; i >= 0; i-- {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.log.Warn("shutdown join budget exhausted, exiting with tasks still running")
			break
		}
		select {
		case <-tasks[i].done:
		case <-time.After(remaining):
			s.log.WithField("task", tasks[i].name).Warn("task did not exit within shutdown budget")
		}
	}
	return lberr.New(lberr.Shutdown, "supervisor.Run", nil)
}

// cleanupExit releases the pid lock. It closes no sockets: the gateway
// session closes its UDP socket when it shuts down, while the three HCI
// controllers are not closed by any task or by this step and stay open
// until the process exits. The slab is reclaimed with the process.
func (s *Supervisor) cleanupExit() {
	if err := s.lock.Unlock(); err != nil {
		s.log.WithError(err).Warn("failed to release pid lock")
	}
}

// WaitForSignal returns at once with a context that a background
// goroutine cancels when SIGINT or SIGTERM arrives (spec.md §4.9's
// "installs a SIGINT/SIGTERM handler that flips the global
// ready_to_work flag to false").
func WaitForSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigc:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()
	return ctx, cancel
}
